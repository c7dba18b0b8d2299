// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package router

import (
	"context"
	"sync"
	"time"

	"github.com/rapidaai/voicebridge/internal/agent"
	"github.com/rapidaai/voicebridge/internal/audio"
	"github.com/rapidaai/voicebridge/internal/commons"
	"github.com/rapidaai/voicebridge/internal/session"
	"github.com/rapidaai/voicebridge/internal/tts"
)

// queueDepth is the bounded depth of finalized transcripts awaiting a
// turn (§4.7: "a finite queue of finalized transcripts (depth 4)").
const queueDepth = 4

// pendingTurn is one finalized transcript waiting to be served.
type pendingTurn struct {
	text  string
	epoch uint64
}

// Router is C7, the Turn Router: serves one turn at a time from a
// bounded queue, driving the orchestrator (C6) and pushing synthesized
// audio frames out through the channel the Conductor (C8) owns.
type Router struct {
	orchestrator *agent.Orchestrator
	ttsPool      tts.Pool
	store        session.Store
	ownerID      string
	logger       commons.Logger
	turnTimeout  time.Duration
	voiceProfile func(*session.Record) (provider, voice string)

	queue chan pendingTurn

	mu         sync.Mutex
	cancelTurn context.CancelFunc
}

// New builds a Router. voiceProfile resolves which TTS provider/voice to
// open a stream against for the session's active agent.
func New(orchestrator *agent.Orchestrator, ttsPool tts.Pool, store session.Store, ownerID string, logger commons.Logger, turnTimeout time.Duration, voiceProfile func(*session.Record) (string, string)) *Router {
	return &Router{
		orchestrator: orchestrator,
		ttsPool:      ttsPool,
		store:        store,
		ownerID:      ownerID,
		logger:       logger,
		turnTimeout:  turnTimeout,
		voiceProfile: voiceProfile,
		queue:        make(chan pendingTurn, queueDepth),
	}
}

// Enqueue pushes a finalized transcript onto the queue (§4.7 step 1). If
// the queue is full, the oldest entry is dropped and an error is logged
// (§4.7: "overflow drops the oldest with an error logged").
func (r *Router) Enqueue(sessionID, text string, epoch uint64) {
	select {
	case r.queue <- pendingTurn{text: text, epoch: epoch}:
		return
	default:
	}
	select {
	case <-r.queue:
		r.logger.Warnw("turn queue overflow, dropped oldest pending transcript", "session_id", sessionID)
	default:
	}
	select {
	case r.queue <- pendingTurn{text: text, epoch: epoch}:
	default:
		r.logger.Warnw("turn queue still full after drop, discarding transcript", "session_id", sessionID)
	}
}

// CancelCurrentTurn cancels the in-flight turn's context, used by the
// Conductor on barge-in (§4.8). Safe to call when no turn is active.
func (r *Router) CancelCurrentTurn() {
	r.mu.Lock()
	cancel := r.cancelTurn
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// StateCallback notifies the Conductor of a state transition a served
// turn triggers (Thinking → Speaking → Listening), so the Conductor
// remains the single owner of SessionRecord.State mutation (§3
// ownership rule).
type StateCallback func(to session.State)

// AudioSink is where synthesized frames are pushed; the Conductor wires
// this to its outbound transport channel.
type AudioSink func(audio.Frame)

// Serve runs the router's main loop for one session until ctx is
// cancelled (session Ended, §9: "none hold back-references" — Serve
// exits cleanly on ctx.Done without needing to know about the
// Conductor's other tasks). Exactly one turn is in flight at a time
// (§4.7 ordering guarantee).
func (r *Router) Serve(ctx context.Context, rec *session.Record, onState StateCallback, sink AudioSink) {
	for {
		select {
		case <-ctx.Done():
			return
		case pending, ok := <-r.queue:
			if !ok {
				return
			}
			r.serveTurn(ctx, rec, pending, onState, sink)
		}
	}
}

func (r *Router) serveTurn(parentCtx context.Context, rec *session.Record, pending pendingTurn, onState StateCallback, sink AudioSink) {
	turnCtx, cancel := context.WithTimeout(parentCtx, r.turnTimeout)
	r.mu.Lock()
	r.cancelTurn = cancel
	r.mu.Unlock()
	defer func() {
		cancel()
		r.mu.Lock()
		r.cancelTurn = nil
		r.mu.Unlock()
	}()

	turn := session.TurnRecord{
		TurnIndex: rec.TurnIndex + 1,
		UserText:  pending.text,
		StartedAt: time.Now(),
		Epoch:     pending.epoch,
	}

	onState(session.StateThinking)

	provider, voice := r.voiceProfile(rec)
	assembler := GetTextAssembler(AssemblerDefault, 2*time.Second)

	var ttsStream tts.Stream
	speakingStarted := false
	terminal := session.TerminalCompleted

	events := r.orchestrator.RunTurn(turnCtx, rec, pending.text)

drain:
	for ev := range events {
		switch ev.Kind {
		case agent.EventTextChunk:
			turn.ResponseChunks = append(turn.ResponseChunks, ev.Text)
			if !speakingStarted {
				speakingStarted = true
				onState(session.StateSpeaking)
				stream, err := r.ttsPool.Open(turnCtx, rec.SessionID, provider, voice)
				if err != nil {
					r.logger.Warnw("tts open failed", "session_id", rec.SessionID, "err", err)
					terminal = session.TerminalError
					break drain
				}
				ttsStream = stream
				go r.drainTTS(turnCtx, ttsStream, sink)
			}
			for _, sentence := range assembler.Push(ev.Text) {
				if ttsStream != nil {
					_ = ttsStream.PushText(turnCtx, sentence)
				}
			}

		case agent.EventToolInvoked, agent.EventToolResult:
			turn.ToolCalls = append(turn.ToolCalls, toolCallRecord(ev))

		case agent.EventHandoff:
			// active_agent mutation already committed by the orchestrator
			// via session.Store; nothing further for the router to do.

		case agent.EventDone:
			if rest := assembler.Flush(); rest != "" && ttsStream != nil {
				_ = ttsStream.PushText(turnCtx, rest)
			}
			break drain

		case agent.EventError:
			terminal = session.TerminalError
			turn.ResponseChunks = append(turn.ResponseChunks, ev.Text)
			assembler.Flush()
			if !speakingStarted {
				speakingStarted = true
				onState(session.StateSpeaking)
				stream, err := r.ttsPool.Open(turnCtx, rec.SessionID, provider, voice)
				if err != nil {
					r.logger.Warnw("tts open failed for fallback phrase", "session_id", rec.SessionID, "err", err)
					break drain
				}
				ttsStream = stream
				go r.drainTTS(turnCtx, ttsStream, sink)
			}
			if ttsStream != nil {
				_ = ttsStream.PushText(turnCtx, ev.Text)
			}
			break drain
		}
	}

	if turnCtx.Err() != nil && terminal == session.TerminalCompleted {
		if parentCtx.Err() == nil && turnCtx.Err() == context.DeadlineExceeded {
			// turn's own deadline (30s cap) fired, not a barge-in or parent cancellation
			terminal = session.TerminalTimeout
		} else {
			terminal = session.TerminalBargedIn
		}
	}

	if ttsStream != nil {
		_ = ttsStream.Close()
		r.ttsPool.Close(rec.SessionID)
	}

	turn.EndedAt = time.Now()
	turn.TerminalReason = terminal

	if r.store != nil {
		_, _ = session.MutateWithRetry(context.Background(), r.store, rec.SessionID, r.ownerID, func(rr *session.Record) error {
			rr.AppendTurn(turn)
			return nil
		})
	}
	rec.AppendTurn(turn)

	if terminal != session.TerminalBargedIn {
		onState(session.StateListening)
	}
}

func (r *Router) drainTTS(ctx context.Context, stream tts.Stream, sink AudioSink) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-stream.Audio():
			if !ok {
				return
			}
			sink(audio.Frame{PCM: chunk.PCM, SampleRate: chunk.SampleRate, ChannelCount: 1, IsFinal: chunk.IsFinal})
		case err, ok := <-stream.Errors():
			if !ok {
				continue
			}
			r.logger.Warnw("tts stream error", "err", err)
			return
		}
	}
}

func toolCallRecord(ev agent.Event) session.ToolCallRecord {
	rec := session.ToolCallRecord{Name: ev.ToolName, StartedAt: time.Now()}
	if ev.Kind == agent.EventToolInvoked {
		rec.Args = ev.ToolArgs
		return rec
	}
	rec.EndedAt = time.Now()
	if ev.ToolOK {
		rec.Result = ev.ToolArgs
	} else {
		rec.Error = ev.ToolErr
	}
	return rec
}
