// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package tts implements C3, the TTS Client Pool (§4.3): a bounded pool of
// upstream speech-synthesis connections, one open stream per in-progress
// turn. Text is sent to the provider as pushed; the pool does not
// normalize it.
package tts

import (
	"context"
)

// AudioChunk is one block of synthesized PCM audio (§3 AudioFrame, TTS
// direction).
type AudioChunk struct {
	PCM        []byte
	SampleRate int
	IsFinal    bool
}

// Stream is an exclusive handle on one upstream TTS synthesis request.
// Exactly one Stream may be open per turn (§4.3 invariant: "single open
// TTS stream per turn").
type Stream interface {
	// PushText streams one text chunk to be spoken. Call Close() once
	// the turn's final chunk has been sent.
	PushText(ctx context.Context, text string) error

	// Audio yields synthesized audio chunks as they become available.
	Audio() <-chan AudioChunk

	// Errors yields terminal upstream failures.
	Errors() <-chan error

	// Close flushes and releases the upstream connection.
	Close() error
}

// Pool is the C3 TTS Client Pool (§4.3).
type Pool interface {
	// Open starts a new synthesis Stream for a turn using the named
	// provider ("deepgram", "cartesia", or "google"). Blocks until a
	// slot is free or ctx is cancelled.
	Open(ctx context.Context, sessionID, provider, voice string) (Stream, error)

	// Close releases a Stream's slot, closing the upstream connection if
	// it has not already closed itself.
	Close(sessionID string)

	// Len reports the number of streams currently open.
	Len() int
}
