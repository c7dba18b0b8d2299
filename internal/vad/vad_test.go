// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package vad

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGate_FiresAfterSustainedSpeech(t *testing.T) {
	g := NewGate(0.3, 120)

	// Five 20ms speech frames: 100ms accumulated, below the minimum.
	for i := 0; i < 5; i++ {
		assert.False(t, g.Observe(0.9, 20))
	}
	// Sixth frame crosses 120ms.
	assert.True(t, g.Observe(0.9, 20))
}

func TestGate_FiresOncePerRun(t *testing.T) {
	g := NewGate(0.3, 120)

	fired := 0
	for i := 0; i < 20; i++ {
		if g.Observe(0.9, 20) {
			fired++
		}
	}
	assert.Equal(t, 1, fired)
}

func TestGate_NonSpeechResetsRun(t *testing.T) {
	g := NewGate(0.3, 120)

	for i := 0; i < 5; i++ {
		assert.False(t, g.Observe(0.9, 20))
	}
	// A sub-threshold frame restarts the run from zero.
	assert.False(t, g.Observe(0.1, 20))
	for i := 0; i < 5; i++ {
		assert.False(t, g.Observe(0.9, 20))
	}
	assert.True(t, g.Observe(0.9, 20))
}

func TestGate_CanFireAgainAfterReset(t *testing.T) {
	g := NewGate(0.3, 120)

	for i := 0; i < 6; i++ {
		g.Observe(0.9, 20)
	}
	g.Reset()
	fired := 0
	for i := 0; i < 6; i++ {
		if g.Observe(0.9, 20) {
			fired++
		}
	}
	assert.Equal(t, 1, fired)
}

func TestPCM16ToFloat32(t *testing.T) {
	pcm := make([]byte, 6)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(int16(0)))
	binary.LittleEndian.PutUint16(pcm[2:], uint16(int16(32767)))
	binary.LittleEndian.PutUint16(pcm[4:], uint16(int16(-32767)))

	samples := pcm16ToFloat32(pcm)
	assert.Len(t, samples, 3)
	assert.InDelta(t, 0.0, samples[0], 1e-6)
	assert.InDelta(t, 1.0, samples[1], 1e-4)
	assert.InDelta(t, -1.0, samples[2], 1e-4)
}

func TestPCM16ToFloat32_OddTrailingByteIgnored(t *testing.T) {
	samples := pcm16ToFloat32([]byte{0x00, 0x10, 0xff})
	assert.Len(t, samples, 1)
}
