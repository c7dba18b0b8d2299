// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicebridge/internal/agent"
	"github.com/rapidaai/voicebridge/internal/audio"
	"github.com/rapidaai/voicebridge/internal/commons"
	"github.com/rapidaai/voicebridge/internal/llm"
	"github.com/rapidaai/voicebridge/internal/session"
	"github.com/rapidaai/voicebridge/internal/tts"
)

type scriptedChatClient struct{ events []llm.ChatEvent }

func (c *scriptedChatClient) Chat(ctx context.Context, messages []llm.ChatMessage, tools []llm.ToolSpec) (<-chan llm.ChatEvent, error) {
	ch := make(chan llm.ChatEvent, len(c.events))
	for _, e := range c.events {
		ch <- e
	}
	close(ch)
	return ch, nil
}

type fakeLLMPool struct{ script []llm.ChatEvent }

func (p *fakeLLMPool) Chat(ctx context.Context, provider string) (llm.ChatClient, error) {
	return &scriptedChatClient{events: p.script}, nil
}
func (p *fakeLLMPool) AcquireRealtime(ctx context.Context, sessionID, provider string) (llm.RealtimeClient, error) {
	return nil, nil
}
func (p *fakeLLMPool) ReleaseRealtime(sessionID string) {}
func (p *fakeLLMPool) Len() int                         { return 0 }

type fakeTTSStream struct {
	audio chan tts.AudioChunk
	errs  chan error
	texts []string
}

func (s *fakeTTSStream) PushText(ctx context.Context, text string) error {
	s.texts = append(s.texts, text)
	s.audio <- tts.AudioChunk{PCM: []byte(text), SampleRate: 8000}
	return nil
}
func (s *fakeTTSStream) Audio() <-chan tts.AudioChunk { return s.audio }
func (s *fakeTTSStream) Errors() <-chan error         { return s.errs }
func (s *fakeTTSStream) Close() error {
	close(s.audio)
	return nil
}

type fakeTTSPool struct {
	opened int
	closed int
	stream *fakeTTSStream
}

func (p *fakeTTSPool) Open(ctx context.Context, sessionID, provider, voice string) (tts.Stream, error) {
	p.opened++
	p.stream = &fakeTTSStream{audio: make(chan tts.AudioChunk, 8), errs: make(chan error, 1)}
	return p.stream, nil
}
func (p *fakeTTSPool) Close(sessionID string) { p.closed++ }
func (p *fakeTTSPool) Len() int               { return 0 }

func testLogger(t *testing.T) commons.Logger {
	t.Helper()
	l, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	return l
}

func newTestOrchestrator(t *testing.T, script []llm.ChatEvent) *agent.Orchestrator {
	t.Helper()
	greeter := &agent.Spec{Key: agent.GreeterKey, Provider: "fake", SystemPrompt: "hi"}
	reg, err := agent.NewRegistry([]*agent.Spec{greeter})
	require.NoError(t, err)
	pool := &fakeLLMPool{script: script}
	return agent.NewOrchestrator(reg, pool, nil, "owner-1", testLogger(t), 8, time.Second, "sorry", agent.GreeterKey)
}

func TestRouter_ServesOneTurnAndSpeaksChunks(t *testing.T) {
	orch := newTestOrchestrator(t, []llm.ChatEvent{
		{Kind: llm.EventToken, Text: "Hello there. "},
		{Kind: llm.EventToken, Text: "How can I help?"},
		{Kind: llm.EventFinished},
	})
	ttsPool := &fakeTTSPool{}
	rec := session.NewRecord("sess-1", session.TransportBrowser, "owner-1", 8)

	r := New(orch, ttsPool, nil, "owner-1", testLogger(t), 5*time.Second, func(*session.Record) (string, string) {
		return "deepgram", "default"
	})

	var states []session.State
	var frames []audio.Frame
	onState := func(s session.State) { states = append(states, s) }
	sink := func(f audio.Frame) { frames = append(frames, f) }

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		r.Serve(ctx, rec, onState, sink)
		close(done)
	}()

	r.Enqueue(rec.SessionID, "hi there", rec.CancelEpoch)

	time.Sleep(200 * time.Millisecond)
	cancel()
	<-done

	assert.Contains(t, states, session.StateThinking)
	assert.Contains(t, states, session.StateSpeaking)
	assert.Equal(t, 1, ttsPool.opened)
	assert.Equal(t, 1, ttsPool.closed)
	assert.NotEmpty(t, frames)
	assert.Len(t, rec.History, 1)
	assert.Equal(t, session.TerminalCompleted, rec.History[0].TerminalReason)
}

func TestRouter_Enqueue_OverflowDropsOldest(t *testing.T) {
	orch := newTestOrchestrator(t, []llm.ChatEvent{{Kind: llm.EventFinished}})
	ttsPool := &fakeTTSPool{}
	r := New(orch, ttsPool, nil, "owner-1", testLogger(t), time.Second, func(*session.Record) (string, string) {
		return "deepgram", "default"
	})

	for i := 0; i < queueDepth+2; i++ {
		r.Enqueue("sess-1", "utterance", uint64(i))
	}
	assert.Equal(t, queueDepth, len(r.queue))
}

func TestRouter_CancelCurrentTurn_SafeWhenIdle(t *testing.T) {
	orch := newTestOrchestrator(t, nil)
	ttsPool := &fakeTTSPool{}
	r := New(orch, ttsPool, nil, "owner-1", testLogger(t), time.Second, func(*session.Record) (string, string) {
		return "deepgram", "default"
	})
	assert.NotPanics(t, func() { r.CancelCurrentTurn() })
}
