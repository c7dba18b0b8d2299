// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package stt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicebridge/internal/audio"
	"github.com/rapidaai/voicebridge/internal/commons"
)

type fakeRecognizer struct {
	events chan TranscriptEvent
	errs   chan error
	closed bool
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{events: make(chan TranscriptEvent, 4), errs: make(chan error, 1)}
}

func (f *fakeRecognizer) PushFrame(ctx context.Context, frame audio.Frame) error { return nil }
func (f *fakeRecognizer) Events() <-chan TranscriptEvent                        { return f.events }
func (f *fakeRecognizer) Errors() <-chan error                                  { return f.errs }
func (f *fakeRecognizer) Close() error                                         { f.closed = true; return nil }

func testLogger(t *testing.T) commons.Logger {
	l, err := commons.NewLoggerAtLevel("debug")
	require.NoError(t, err)
	return l
}

func TestPool_AcquireRelease(t *testing.T) {
	var created int
	p := NewPool(testLogger(t), 1, map[string]Factory{
		"fake": func(ctx context.Context, sessionID string) (Recognizer, error) {
			created++
			return newFakeRecognizer(), nil
		},
	})

	rec, err := p.Acquire(context.Background(), "sess-1", "fake")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, 1, created)

	p.Release("sess-1")
	assert.Equal(t, 0, p.Len())
}

func TestPool_AcquireBlocksWhenFull(t *testing.T) {
	p := NewPool(testLogger(t), 1, map[string]Factory{
		"fake": func(ctx context.Context, sessionID string) (Recognizer, error) {
			return newFakeRecognizer(), nil
		},
	})

	_, err := p.Acquire(context.Background(), "sess-1", "fake")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx, "sess-2", "fake")
	assert.Error(t, err, "pool of size 1 should block a second acquire until context deadline")
}

func TestPool_AcquireUnknownProvider(t *testing.T) {
	p := NewPool(testLogger(t), 1, map[string]Factory{})
	_, err := p.Acquire(context.Background(), "sess-1", "nonexistent")
	assert.Error(t, err)
	assert.Equal(t, commons.KindConfig, commons.KindOf(err))
}

func TestPool_DiscardClosesAndFreesSlot(t *testing.T) {
	var rec *fakeRecognizer
	p := NewPool(testLogger(t), 1, map[string]Factory{
		"fake": func(ctx context.Context, sessionID string) (Recognizer, error) {
			rec = newFakeRecognizer()
			return rec, nil
		},
	})

	_, err := p.Acquire(context.Background(), "sess-1", "fake")
	require.NoError(t, err)

	p.Discard("sess-1")
	assert.True(t, rec.closed)
	assert.Equal(t, 0, p.Len())

	_, err = p.Acquire(context.Background(), "sess-2", "fake")
	assert.NoError(t, err, "slot must be reusable after Discard")
}
