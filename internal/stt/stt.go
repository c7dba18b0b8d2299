// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package stt implements C2, the STT Client Pool (§4.2): a bounded pool of
// upstream speech-recognition connections, one exclusively held per active
// session, streaming interim and final TranscriptEvents back to the
// Session Conductor.
package stt

import (
	"context"
	"time"

	"github.com/rapidaai/voicebridge/internal/audio"
)

// TranscriptEvent is one partial or final recognition result (§3).
type TranscriptEvent struct {
	SessionID  string
	Text       string
	IsFinal    bool
	Confidence float64
	Epoch      uint64
	EmittedAt  time.Time
}

// Recognizer is an exclusive handle on one upstream STT connection (§4.2:
// "Acquire(session_id) returns an exclusive Recognizer handle"). Callers
// push audio frames and drain Events until the recognizer is Closed or
// the upstream connection fails.
type Recognizer interface {
	// PushFrame streams one 20ms PCM frame upstream. Never blocks longer
	// than the caller's context allows.
	PushFrame(ctx context.Context, frame audio.Frame) error

	// Events yields interim transcripts within ~300ms of speech and final
	// transcripts within ~800ms of end-of-utterance (§4.2 latency
	// contract; not literally enforceable here, only structurally
	// supported by not buffering beyond what the upstream itself buffers).
	Events() <-chan TranscriptEvent

	// Errors yields terminal upstream failures; after one is received the
	// Recognizer must be Closed and replaced via Pool.Acquire.
	Errors() <-chan error

	// Close releases the upstream connection. Safe to call multiple
	// times.
	Close() error
}

// Pool is the C2 STT Client Pool (§4.2).
type Pool interface {
	// Acquire returns an exclusive Recognizer for sessionID using the
	// named provider ("deepgram", "azure", or "google"). The pool blocks
	// until a slot is free or ctx is cancelled.
	Acquire(ctx context.Context, sessionID, provider string) (Recognizer, error)

	// Release returns a Recognizer's slot to the pool without closing the
	// upstream connection (used when a turn ends but the session
	// continues listening).
	Release(sessionID string)

	// Discard closes and removes a Recognizer, used on upstream error or
	// session end (§4.2: "discard-and-recreate on upstream error").
	Discard(sessionID string)

	// Len reports the number of recognizers currently checked out.
	Len() int
}
