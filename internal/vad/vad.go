// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package vad scores inbound audio frames for speech activity ahead of
// the STT stream. The Session Conductor ORs a sustained speech run from
// here with the STT-confidence proxy to decide barge-in; the silence
// timeout does not use this signal. When no detector is configured, STT
// confidence remains the sole barge-in signal.
package vad

import (
	"encoding/binary"
	"math"

	"github.com/rapidaai/voicebridge/internal/audio"
)

// Detector scores audio frames for speech probability. Implementations
// are stateful per stream and not safe for concurrent use; the Conductor
// creates one per session via a Factory.
type Detector interface {
	// Score returns the probability in [0,1] that frame contains speech.
	Score(frame audio.Frame) (float64, error)

	// Reset clears accumulated stream state. The Conductor keeps one
	// detector for the whole session and does not call it.
	Reset() error

	// Close releases the underlying model resources.
	Close() error
}

// Factory constructs a fresh per-session Detector.
type Factory func() (Detector, error)

// Gate turns per-frame speech scores into the sustained-speech decision:
// it fires once scores at or above threshold have been observed over at
// least minSpeechMs of consecutive audio, then stays quiet until a
// non-speech frame resets the run.
type Gate struct {
	threshold   float64
	minSpeechMs int

	speechMs int
	fired    bool
}

// NewGate builds a Gate with the given score threshold and minimum
// sustained speech duration in milliseconds.
func NewGate(threshold float64, minSpeechMs int) *Gate {
	return &Gate{threshold: threshold, minSpeechMs: minSpeechMs}
}

// Observe records one frame's score and duration. It returns true
// exactly once per sustained speech run, at the moment the run's total
// duration crosses the gate's minimum.
func (g *Gate) Observe(score float64, frameMs int) bool {
	if score < g.threshold {
		g.speechMs = 0
		g.fired = false
		return false
	}
	g.speechMs += frameMs
	if g.fired || g.speechMs < g.minSpeechMs {
		return false
	}
	g.fired = true
	return true
}

// Reset clears the current speech run, used after a barge-in has been
// acted on.
func (g *Gate) Reset() {
	g.speechMs = 0
	g.fired = false
}

// pcm16ToFloat32 converts little-endian signed 16-bit PCM into the
// [-1,1] float samples the model consumes.
func pcm16ToFloat32(pcm []byte) []float32 {
	samples := make([]float32, 0, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(binary.LittleEndian.Uint16(pcm[i:]))
		samples = append(samples, float32(s)/float32(math.MaxInt16))
	}
	return samples
}
