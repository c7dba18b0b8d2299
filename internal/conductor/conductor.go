// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package conductor implements C8, the Session Conductor (§4.8): the
// per-call state machine that spawns the STT consumer, the turn router,
// and the transport reader/writer tasks, and owns barge-in cancellation.
// It is transport-blind: it depends only on the Transport interface
// below, which any ingress (browser WS, telephony media WS) can
// satisfy.
package conductor

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/voicebridge/internal/audio"
	"github.com/rapidaai/voicebridge/internal/commons"
	"github.com/rapidaai/voicebridge/internal/router"
	"github.com/rapidaai/voicebridge/internal/session"
	"github.com/rapidaai/voicebridge/internal/stt"
	"github.com/rapidaai/voicebridge/internal/tts"
	"github.com/rapidaai/voicebridge/internal/vad"
)

// outboundHighWaterMark bounds the outbound frame channel (§5: "64-frame
// outbound high-water mark backpressure").
const outboundHighWaterMark = 64

// maxConsecutiveSTTErrors is the §7/S6 "three strikes" limit: three
// consecutive Upstream/Timeout STT failures across a session end the call
// with the goodbye phrase rather than retrying indefinitely.
const maxConsecutiveSTTErrors = 3

var errSTTSilenceTimeout = errors.New("stt silence timeout")
var errSTTConsecutiveFailures = errors.New("stt failed three consecutive times")

// Transport is the ingress-agnostic surface the Conductor drives, the
// shared `{Receive, Send}` shape named in §4.9. Browser and telephony handlers
// (C9) each implement this directly.
type Transport interface {
	// Recv blocks for the next inbound audio frame. ok is false when the
	// transport has closed or hung up; err is non-nil only on an
	// unexpected protocol or network failure.
	Recv(ctx context.Context) (frame audio.Frame, ok bool, err error)

	// Send pushes one outbound audio frame.
	Send(ctx context.Context, frame audio.Frame) error

	// SendState broadcasts a state transition, best-effort (§6:
	// `{"type":"state","state":...}`).
	SendState(ctx context.Context, state session.State) error

	// SendTranscript broadcasts a transcript line, best-effort (§6:
	// `{"type":"transcript", ...}`).
	SendTranscript(ctx context.Context, role, text string, final bool) error

	// SendAgent broadcasts the active agent key, best-effort (§6:
	// `{"type":"agent","key":...}`).
	SendAgent(ctx context.Context, key string) error

	// Close tears down the underlying connection. Safe to call multiple
	// times.
	Close() error
}

// Conductor drives one session's lifecycle end to end.
type Conductor struct {
	sttPool stt.Pool
	ttsPool tts.Pool
	router  *router.Router
	store   session.Store
	ownerID string
	logger  commons.Logger

	sttProvider       string
	bargeInStability  float64
	bargeInMinAudioMs int
	greetingText      string
	greetingProvider  string
	greetingVoice     string
	sttSilenceTimeout time.Duration
	goodbyeText       string
	newVAD            vad.Factory
}

// New builds a Conductor. r must already be wired to the same
// sttPool/ttsPool/store so Router's turn lifecycle and the Conductor's
// state transitions stay consistent. sttSilenceTimeout of zero disables
// the §5 silence-timeout path; goodbyeText of "" disables the spoken
// goodbye on both the silence timeout and the §7 three-strikes path.
// newVAD of nil leaves barge-in on the STT-confidence proxy alone.
func New(sttPool stt.Pool, ttsPool tts.Pool, r *router.Router, store session.Store, ownerID string, logger commons.Logger, sttProvider string, bargeInStability float64, bargeInMinAudioMs int, greetingText, greetingProvider, greetingVoice string, sttSilenceTimeout time.Duration, goodbyeText string, newVAD vad.Factory) *Conductor {
	return &Conductor{
		sttPool:           sttPool,
		ttsPool:           ttsPool,
		router:            r,
		store:             store,
		ownerID:           ownerID,
		logger:            logger,
		sttProvider:       sttProvider,
		bargeInStability:  bargeInStability,
		bargeInMinAudioMs: bargeInMinAudioMs,
		greetingText:      greetingText,
		greetingProvider:  greetingProvider,
		greetingVoice:     greetingVoice,
		sttSilenceTimeout: sttSilenceTimeout,
		goodbyeText:       goodbyeText,
		newVAD:            newVAD,
	}
}

// recognizerRef shares the live recognizer handle between the Reader and
// the STT consumer, so a discard-and-recreate in the consumer (§4.2c)
// redirects the Reader's frame pushes to the fresh handle instead of a
// closed one.
type recognizerRef struct {
	mu  sync.Mutex
	rec stt.Recognizer
}

func (r *recognizerRef) get() stt.Recognizer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec
}

func (r *recognizerRef) set(rec stt.Recognizer) {
	r.mu.Lock()
	r.rec = rec
	r.mu.Unlock()
}

// Run drives rec's session to completion: speaks the greeting, opens the
// STT stream, and runs the Reader/STT-consumer/Router/Writer task group
// (§5 per-session task topology) until the transport closes or ctx is
// cancelled. Always returns once the session has reached Ended.
func (c *Conductor) Run(ctx context.Context, rec *session.Record, transport Transport) error {
	defer transport.Close()

	_ = transport.SendState(ctx, rec.State) // rec is already Greeting from NewRecord
	c.speakGreeting(ctx, rec, transport)
	if ctx.Err() != nil {
		c.endSession(context.Background(), rec, transport)
		return ctx.Err()
	}

	c.transition(ctx, rec, transport, session.StateListening)

	recognizer, err := c.sttPool.Acquire(ctx, rec.SessionID, c.sttProvider)
	if err != nil {
		c.logger.Warnw("stt acquire failed", "session_id", rec.SessionID, "err", err)
		c.endSession(context.Background(), rec, transport)
		return err
	}
	ref := &recognizerRef{rec: recognizer}

	var detector vad.Detector
	if c.newVAD != nil {
		if d, derr := c.newVAD(); derr == nil {
			detector = d
			defer func() { _ = d.Close() }()
		} else {
			c.logger.Warnw("vad detector unavailable, falling back to stt confidence", "session_id", rec.SessionID, "err", derr)
		}
	}

	outbound := make(chan audio.Frame, outboundHighWaterMark)

	sessionCtx, cancelSession := context.WithCancel(ctx)
	defer cancelSession()

	eg, egCtx := errgroup.WithContext(sessionCtx)

	eg.Go(func() error {
		c.router.Serve(egCtx, rec, func(s session.State) {
			c.transition(egCtx, rec, transport, s)
		}, func(f audio.Frame) {
			select {
			case outbound <- f:
			default:
				c.logger.Warnw("outbound queue full, dropping frame", "session_id", rec.SessionID)
			}
		})
		return nil
	})

	eg.Go(func() error { return c.runSTTConsumer(egCtx, rec, transport, ref) })
	eg.Go(func() error { return c.runReader(egCtx, rec, transport, ref, detector) })
	eg.Go(func() error { return c.runWriter(egCtx, rec, transport, outbound) })

	_ = eg.Wait()

	// shutdown order (§9): inbound first, then STT, then outbound.
	cancelSession()
	c.sttPool.Discard(rec.SessionID)
	c.ttsPool.Close(rec.SessionID)

	c.endSession(context.Background(), rec, transport)
	return nil
}

func (c *Conductor) endSession(ctx context.Context, rec *session.Record, transport Transport) {
	if err := rec.Transition(session.StateEnded); err != nil {
		c.logger.Warnw("illegal end transition", "session_id", rec.SessionID, "err", err)
	}
	_ = transport.SendState(ctx, session.StateEnded)
	if c.store != nil {
		_, _ = session.MutateWithRetry(ctx, c.store, rec.SessionID, c.ownerID, func(r *session.Record) error {
			return r.Transition(session.StateEnded)
		})
	}
}

// transition applies a Router- or barge-in-driven state change, the sole
// path by which SessionRecord.State is mutated (§3 ownership rule: the
// Conductor exclusively owns its SessionRecord's live fields).
func (c *Conductor) transition(ctx context.Context, rec *session.Record, transport Transport, to session.State) {
	if err := rec.Transition(to); err != nil {
		c.logger.Warnw("illegal session transition", "session_id", rec.SessionID, "from", rec.State, "to", to, "err", err)
		return
	}
	if c.store != nil {
		_, _ = session.MutateWithRetry(ctx, c.store, rec.SessionID, c.ownerID, func(r *session.Record) error {
			return r.Transition(to)
		})
	}
	_ = transport.SendState(ctx, to)
}

// speakGreeting opens a TTS stream directly, bypassing the orchestrator
// (§4.8: "session created → Greeting → enqueue synthetic greeting text
// as if from agent"), and drains the synthesized audio straight to the
// transport before the STT stream is ever opened.
func (c *Conductor) speakGreeting(ctx context.Context, rec *session.Record, transport Transport) {
	if c.greetingText == "" {
		return
	}
	c.speakDirect(ctx, rec, transport, c.greetingText)
}

// speakGoodbye speaks the configured goodbye phrase directly, the same
// way speakGreeting does, used by the §5 silence-timeout and §7/S6
// three-consecutive-failures paths that end a session outside the normal
// turn/TTS pipeline. Always uses a fresh context so the phrase still
// plays once the caller has decided to tear the session's own context
// down.
func (c *Conductor) speakGoodbye(rec *session.Record, transport Transport) {
	if c.goodbyeText == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.speakDirect(ctx, rec, transport, c.goodbyeText)
}

// speakDirect opens a TTS stream, synthesizes text, and drains the
// audio straight to the transport, bypassing the Router/Orchestrator.
func (c *Conductor) speakDirect(ctx context.Context, rec *session.Record, transport Transport, text string) {
	stream, err := c.ttsPool.Open(ctx, rec.SessionID, c.greetingProvider, c.greetingVoice)
	if err != nil {
		c.logger.Warnw("direct tts open failed", "session_id", rec.SessionID, "err", err)
		return
	}
	defer func() {
		_ = stream.Close()
		c.ttsPool.Close(rec.SessionID)
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-stream.Audio():
				if !ok {
					return
				}
				_ = transport.Send(ctx, audio.Frame{PCM: chunk.PCM, SampleRate: chunk.SampleRate, ChannelCount: 1, IsFinal: chunk.IsFinal})
				if chunk.IsFinal {
					return
				}
			case <-stream.Errors():
				return
			}
		}
	}()

	if err := stream.PushText(ctx, text); err != nil {
		c.logger.Warnw("direct tts push failed", "session_id", rec.SessionID, "err", err)
	}
	_ = transport.SendTranscript(ctx, "assistant", text, true)

	select {
	case <-done:
	case <-ctx.Done():
	case <-time.After(10 * time.Second):
	}
}

// runReader is the Reader task (§5): drains transport frames into the
// recognizer until the transport closes or ctx is cancelled. When a VAD
// detector is configured, every frame is scored before STT sees it and a
// sustained speech run while Thinking/Speaking fires barge-in directly,
// ORed with the STT-confidence path in runSTTConsumer.
func (c *Conductor) runReader(ctx context.Context, rec *session.Record, transport Transport, ref *recognizerRef, detector vad.Detector) error {
	var gate *vad.Gate
	if detector != nil {
		gate = vad.NewGate(c.bargeInStability, c.bargeInMinAudioMs)
	}
	for {
		frame, ok, err := transport.Recv(ctx)
		if err != nil {
			c.logger.Warnw("transport recv error", "session_id", rec.SessionID, "err", err)
			return nil
		}
		if !ok {
			return nil // transport closed / hang-up
		}

		if detector != nil {
			score, serr := detector.Score(frame)
			if serr != nil {
				c.logger.Warnw("vad score failed, disabling detector for session", "session_id", rec.SessionID, "err", serr)
				detector = nil
			} else if gate.Observe(score, int(frame.FrameDurationMs())) &&
				(rec.State == session.StateThinking || rec.State == session.StateSpeaking) {
				c.bargeIn(ctx, rec, transport)
				gate.Reset()
			}
		}

		if err := ref.get().PushFrame(ctx, frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warnw("stt push frame failed", "session_id", rec.SessionID, "err", err)
		}
	}
}

// runWriter is the Writer task (§5): drains the outbound frame channel to
// the transport.
func (c *Conductor) runWriter(ctx context.Context, rec *session.Record, transport Transport, outbound <-chan audio.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-outbound:
			if !ok {
				return nil
			}
			if err := transport.Send(ctx, frame); err != nil {
				c.logger.Warnw("transport send failed", "session_id", rec.SessionID, "err", err)
				return nil
			}
		}
	}
}

// runSTTConsumer is the STT consumer task (§4.2→§4.8): reads the
// recognizer's event channel, enqueues finals into the Router, fires
// barge-in when a sufficiently stable partial arrives while the session
// is Thinking or Speaking, and owns the §5 silence timeout and §7/S6
// three-consecutive-failures goodbye path. On an upstream error the
// recognizer is discarded and a fresh one acquired (§4.2c) rather than
// the task simply exiting; a non-nil return here cancels the sibling
// Reader/Router/Writer tasks via the shared errgroup context.
func (c *Conductor) runSTTConsumer(ctx context.Context, rec *session.Record, transport Transport, ref *recognizerRef) error {
	recognizer := ref.get()
	var stableSince time.Time
	consecutiveErrors := 0

	var silenceTimer *time.Timer
	var silenceC <-chan time.Time
	if c.sttSilenceTimeout > 0 {
		silenceTimer = time.NewTimer(c.sttSilenceTimeout)
		defer silenceTimer.Stop()
		silenceC = silenceTimer.C
	}
	resetSilence := func() {
		if silenceTimer == nil {
			return
		}
		if !silenceTimer.Stop() {
			select {
			case <-silenceTimer.C:
			default:
			}
		}
		silenceTimer.Reset(c.sttSilenceTimeout)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-silenceC:
			if rec.State != session.StateListening {
				resetSilence()
				continue
			}
			c.logger.Warnw("stt silence timeout, ending session", "session_id", rec.SessionID)
			c.speakGoodbye(rec, transport)
			return commons.NewError(commons.KindTimeout, errSTTSilenceTimeout)

		case ev, ok := <-recognizer.Events():
			if !ok {
				return nil
			}
			resetSilence()
			consecutiveErrors = 0
			_ = transport.SendTranscript(ctx, "user", ev.Text, ev.IsFinal)

			if ev.IsFinal {
				stableSince = time.Time{}
				c.router.Enqueue(rec.SessionID, ev.Text, rec.CancelEpoch)
				continue
			}

			if ev.Confidence < c.bargeInStability {
				stableSince = time.Time{}
				continue
			}
			if stableSince.IsZero() {
				stableSince = ev.EmittedAt
			}
			sustainedMs := ev.EmittedAt.Sub(stableSince).Milliseconds()
			if sustainedMs < int64(c.bargeInMinAudioMs) {
				continue
			}
			if rec.State == session.StateThinking || rec.State == session.StateSpeaking {
				c.bargeIn(ctx, rec, transport)
				stableSince = time.Time{}
			}

		case err, ok := <-recognizer.Errors():
			if !ok {
				continue
			}
			consecutiveErrors++
			c.logger.Warnw("stt recognizer error", "session_id", rec.SessionID, "err", err, "consecutive_failures", consecutiveErrors)
			c.sttPool.Discard(rec.SessionID)

			if consecutiveErrors >= maxConsecutiveSTTErrors {
				c.speakGoodbye(rec, transport)
				return commons.NewError(commons.KindUpstream, errSTTConsecutiveFailures)
			}

			fresh, acqErr := c.sttPool.Acquire(ctx, rec.SessionID, c.sttProvider)
			if acqErr != nil {
				c.logger.Warnw("stt re-acquire after error failed", "session_id", rec.SessionID, "err", acqErr)
				c.speakGoodbye(rec, transport)
				return commons.NewError(commons.KindUpstream, acqErr)
			}
			recognizer = fresh
			ref.set(fresh)
		}
	}
}

// bargeIn implements §4.8's barge-in side effects: bump cancel_epoch
// (cross-worker visible via the Session Store), cancel the Router's
// in-flight turn context, and transition back to Listening. It does not
// finalize the user's turn — finalization waits for the STT final.
func (c *Conductor) bargeIn(ctx context.Context, rec *session.Record, transport Transport) {
	if c.store != nil {
		if epoch, err := c.store.BumpCancelEpoch(ctx, rec.SessionID); err == nil {
			rec.CancelEpoch = epoch
		}
	} else {
		rec.CancelEpoch++
	}
	c.router.CancelCurrentTurn()
	c.transition(ctx, rec, transport, session.StateListening)
}
