// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package audio implements the Audio Codec Adapter (C1): translation
// between the two wire dialects (browser, telephony media) and the
// internal Frame type, with byte-threshold buffering on both paths.
package audio

// Frame is the internal, immutable audio unit the rest of the pipeline
// operates on (§3 AudioFrame).
type Frame struct {
	PCM          []byte
	SampleRate   int
	TimestampUs  int64
	ChannelCount int
	IsFinal      bool
}

// FrameDurationMs returns the playable duration of the frame given its
// sample rate, assuming 16-bit mono samples.
func (f Frame) FrameDurationMs() float64 {
	if f.SampleRate == 0 {
		return 0
	}
	samples := len(f.PCM) / 2
	return float64(samples) / float64(f.SampleRate) * 1000.0
}

// BytesPerFrame returns the number of PCM16 mono bytes in one 20ms frame
// at the given sample rate (320 samples @ 16kHz -> 640 bytes, etc).
func BytesPerFrame(sampleRate int) int {
	samplesPerFrame := sampleRate / 50 // 20ms
	return samplesPerFrame * 2         // 16-bit samples
}
