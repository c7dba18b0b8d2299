// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicebridge/internal/audio"
	"github.com/rapidaai/voicebridge/internal/commons"
)

type fakeChatClient struct{}

func (f *fakeChatClient) Chat(ctx context.Context, messages []ChatMessage, tools []ToolSpec) (<-chan ChatEvent, error) {
	ch := make(chan ChatEvent, 2)
	ch <- ChatEvent{Kind: EventToken, Text: "hi"}
	ch <- ChatEvent{Kind: EventFinished, FinishReason: "stop"}
	close(ch)
	return ch, nil
}

type fakeRealtimeClient struct{ closed bool }

func (f *fakeRealtimeClient) RealtimeVoice(ctx context.Context, audioIn <-chan audio.Frame) (<-chan audio.Frame, <-chan TranscriptEvent, error) {
	return make(chan audio.Frame), make(chan TranscriptEvent), nil
}
func (f *fakeRealtimeClient) Close() error { f.closed = true; return nil }

func testLogger(t *testing.T) commons.Logger {
	t.Helper()
	l, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	return l
}

func TestPool_Chat_DrainsAndReleasesSlot(t *testing.T) {
	p := NewPool(testLogger(t), 1, map[string]ChatFactory{
		"fake": func(ctx context.Context) (ChatClient, error) { return &fakeChatClient{}, nil },
	}, nil)

	client, err := p.Chat(context.Background(), "fake")
	require.NoError(t, err)
	events, err := client.Chat(context.Background(), nil, nil)
	require.NoError(t, err)

	var got []ChatEvent
	for ev := range events {
		got = append(got, ev)
	}
	assert.Len(t, got, 2)
	assert.Equal(t, 0, p.Len())
}

func TestPool_Chat_UnknownProvider(t *testing.T) {
	p := NewPool(testLogger(t), 1, map[string]ChatFactory{}, nil)
	_, err := p.Chat(context.Background(), "nope")
	assert.Error(t, err)
	assert.Equal(t, commons.KindConfig, commons.KindOf(err))
}

func TestPool_Realtime_AcquireReleaseClosesClient(t *testing.T) {
	fake := &fakeRealtimeClient{}
	p := NewPool(testLogger(t), 1, nil, map[string]RealtimeFactory{
		"fake": func(ctx context.Context, sessionID string) (RealtimeClient, error) { return fake, nil },
	})

	client, err := p.AcquireRealtime(context.Background(), "sess-1", "fake")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Len())
	assert.Same(t, fake, client)

	p.ReleaseRealtime("sess-1")
	assert.Equal(t, 0, p.Len())
	assert.True(t, fake.closed)
}

func TestPool_Realtime_BlocksWhenFull(t *testing.T) {
	p := NewPool(testLogger(t), 1, nil, map[string]RealtimeFactory{
		"fake": func(ctx context.Context, sessionID string) (RealtimeClient, error) { return &fakeRealtimeClient{}, nil },
	})

	_, err := p.AcquireRealtime(context.Background(), "sess-1", "fake")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.AcquireRealtime(ctx, "sess-2", "fake")
	assert.Error(t, err)
	assert.Equal(t, commons.KindCancelled, commons.KindOf(err))
}
