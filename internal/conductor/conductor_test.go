// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package conductor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicebridge/internal/agent"
	"github.com/rapidaai/voicebridge/internal/audio"
	"github.com/rapidaai/voicebridge/internal/commons"
	"github.com/rapidaai/voicebridge/internal/llm"
	"github.com/rapidaai/voicebridge/internal/router"
	"github.com/rapidaai/voicebridge/internal/session"
	"github.com/rapidaai/voicebridge/internal/stt"
	"github.com/rapidaai/voicebridge/internal/tts"
)

func testLogger(t *testing.T) commons.Logger {
	t.Helper()
	l, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	return l
}

// --- fake transport ---

type fakeTransport struct {
	mu       sync.Mutex
	inbound  []audio.Frame
	idx      int
	hangup   bool
	sent     []audio.Frame
	states   []session.State
	closed   bool
}

func (f *fakeTransport) Recv(ctx context.Context) (audio.Frame, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.inbound) {
		return audio.Frame{}, false, nil
	}
	fr := f.inbound[f.idx]
	f.idx++
	return fr, true, nil
}

func (f *fakeTransport) Send(ctx context.Context, frame audio.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeTransport) SendState(ctx context.Context, state session.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
	return nil
}

func (f *fakeTransport) SendTranscript(ctx context.Context, role, text string, final bool) error {
	return nil
}
func (f *fakeTransport) SendAgent(ctx context.Context, key string) error { return nil }
func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// --- fake stt ---

type fakeRecognizer struct {
	events chan stt.TranscriptEvent
	errs   chan error
}

func (r *fakeRecognizer) PushFrame(ctx context.Context, frame audio.Frame) error { return nil }
func (r *fakeRecognizer) Events() <-chan stt.TranscriptEvent                    { return r.events }
func (r *fakeRecognizer) Errors() <-chan error                                  { return r.errs }
func (r *fakeRecognizer) Close() error                                          { return nil }

type fakeSTTPool struct{ recognizer *fakeRecognizer }

func (p *fakeSTTPool) Acquire(ctx context.Context, sessionID, provider string) (stt.Recognizer, error) {
	return p.recognizer, nil
}
func (p *fakeSTTPool) Release(sessionID string) {}
func (p *fakeSTTPool) Discard(sessionID string) {}
func (p *fakeSTTPool) Len() int                 { return 0 }

// --- fake tts ---

type fakeTTSStream struct {
	audio chan tts.AudioChunk
	errs  chan error
}

func (s *fakeTTSStream) PushText(ctx context.Context, text string) error {
	s.audio <- tts.AudioChunk{PCM: []byte(text), SampleRate: 8000, IsFinal: true}
	return nil
}
func (s *fakeTTSStream) Audio() <-chan tts.AudioChunk { return s.audio }
func (s *fakeTTSStream) Errors() <-chan error         { return s.errs }
func (s *fakeTTSStream) Close() error {
	close(s.audio)
	return nil
}

type fakeTTSPool struct{ mu sync.Mutex }

func (p *fakeTTSPool) Open(ctx context.Context, sessionID, provider, voice string) (tts.Stream, error) {
	return &fakeTTSStream{audio: make(chan tts.AudioChunk, 8), errs: make(chan error, 1)}, nil
}
func (p *fakeTTSPool) Close(sessionID string) {}
func (p *fakeTTSPool) Len() int               { return 0 }

// --- fake llm ---

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

func newTestConductor(t *testing.T, recognizer *fakeRecognizer) (*Conductor, *fakeTransport) {
	t.Helper()
	return newTestConductorWithSilence(t, recognizer, 0)
}

func newTestConductorWithSilence(t *testing.T, recognizer *fakeRecognizer, sttSilenceTimeout time.Duration) (*Conductor, *fakeTransport) {
	t.Helper()
	greeter := &agent.Spec{Key: agent.GreeterKey, Provider: "fake", SystemPrompt: "hi"}
	reg, err := agent.NewRegistry([]*agent.Spec{greeter})
	require.NoError(t, err)
	pool := &fakeLLMPool{script: []llm.ChatEvent{
		{Kind: llm.EventToken, Text: "Sure, one moment."},
		{Kind: llm.EventFinished},
	}}
	orch := agent.NewOrchestrator(reg, pool, nil, "owner-1", testLogger(t), 8, time.Second, "sorry", agent.GreeterKey)
	ttsPool := &fakeTTSPool{}
	r := router.New(orch, ttsPool, nil, "owner-1", testLogger(t), 5*time.Second, func(*session.Record) (string, string) {
		return "deepgram", "default"
	})
	sttPool := &fakeSTTPool{recognizer: recognizer}
	c := New(sttPool, ttsPool, r, nil, "owner-1", testLogger(t), "deepgram", 0.3, 120, "Hello, how can I help?", "deepgram", "default", sttSilenceTimeout, "Goodbye.", nil)
	return c, &fakeTransport{}
}

func TestConductor_Run_GreetingThenListeningThenHangup(t *testing.T) {
	recognizer := &fakeRecognizer{events: make(chan stt.TranscriptEvent, 4), errs: make(chan error, 1)}
	c, transport := newTestConductor(t, recognizer)
	rec := session.NewRecord("sess-1", session.TransportBrowser, "owner-1", 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, rec, transport) }()

	time.Sleep(150 * time.Millisecond)
	recognizer.events <- stt.TranscriptEvent{Text: "book a flight", IsFinal: true, EmittedAt: time.Now()}
	time.Sleep(200 * time.Millisecond)

	cancel() // simulate transport hang-up / shutdown

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("conductor did not shut down after hangup")
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	assert.Contains(t, transport.states, session.StateGreeting)
	assert.Contains(t, transport.states, session.StateListening)
	assert.Contains(t, transport.states, session.StateEnded)
	assert.Equal(t, session.StateEnded, rec.State)
	assert.True(t, transport.closed)
}

func TestConductor_BargeIn_CancelsCurrentTurnAndBumpsEpoch(t *testing.T) {
	recognizer := &fakeRecognizer{events: make(chan stt.TranscriptEvent, 4), errs: make(chan error, 1)}
	c, transport := newTestConductor(t, recognizer)
	rec := session.NewRecord("sess-2", session.TransportBrowser, "owner-1", 8)
	require.NoError(t, rec.Transition(session.StateGreeting))
	require.NoError(t, rec.Transition(session.StateListening))
	require.NoError(t, rec.Transition(session.StateThinking))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	c.bargeIn(ctx, rec, transport)

	assert.Equal(t, session.StateListening, rec.State)
	assert.Equal(t, uint64(1), rec.CancelEpoch)
}

// TestConductor_STTThreeConsecutiveErrors_EndsWithGoodbye exercises §7/S6:
// three consecutive STT upstream errors across a session end the call
// with the configured goodbye phrase, and the task group actually tears
// down (Run returns) instead of leaving a dead STT consumer behind.
func TestConductor_STTThreeConsecutiveErrors_EndsWithGoodbye(t *testing.T) {
	recognizer := &fakeRecognizer{events: make(chan stt.TranscriptEvent, 4), errs: make(chan error, 4)}
	c, transport := newTestConductor(t, recognizer)
	rec := session.NewRecord("sess-3", session.TransportBrowser, "owner-1", 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, rec, transport) }()

	time.Sleep(100 * time.Millisecond)
	for i := 0; i < maxConsecutiveSTTErrors; i++ {
		recognizer.errs <- commons.NewRetryableError(commons.KindUpstream, assertErr("upstream hiccup"))
		time.Sleep(50 * time.Millisecond)
	}

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("conductor did not end session after three consecutive stt errors")
	}

	assert.Equal(t, session.StateEnded, rec.State)
	transport.mu.Lock()
	defer transport.mu.Unlock()
	assert.Contains(t, transport.states, session.StateEnded)

	var spoken string
	for _, f := range transport.sent {
		spoken += string(f.PCM)
	}
	assert.Contains(t, spoken, "Goodbye.")
}

// TestConductor_STTSilenceTimeout_EndsWithGoodbye exercises §5: 15s of no
// partials while Listening closes the session with the goodbye phrase.
func TestConductor_STTSilenceTimeout_EndsWithGoodbye(t *testing.T) {
	recognizer := &fakeRecognizer{events: make(chan stt.TranscriptEvent, 4), errs: make(chan error, 1)}
	c, transport := newTestConductorWithSilence(t, recognizer, 50*time.Millisecond)
	rec := session.NewRecord("sess-4", session.TransportBrowser, "owner-1", 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, rec, transport) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("conductor did not end session after stt silence timeout")
	}

	assert.Equal(t, session.StateEnded, rec.State)
	transport.mu.Lock()
	defer transport.mu.Unlock()
	var spoken string
	for _, f := range transport.sent {
		spoken += string(f.PCM)
	}
	assert.Contains(t, spoken, "Goodbye.")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
