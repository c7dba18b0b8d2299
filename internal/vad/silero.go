// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package vad

import (
	"sync"

	silero "github.com/streamer45/silero-vad-go/speech"

	"github.com/rapidaai/voicebridge/internal/audio"
	"github.com/rapidaai/voicebridge/internal/commons"
)

// sileroWindowSamples is the model's fixed analysis window at 16kHz.
// Inbound 20ms frames (320 samples) are buffered until a full window is
// available, so Score lags the wire by at most one window (~32ms).
const sileroWindowSamples = 512

// sileroDetector wraps one streamed Silero VAD session. The underlying
// detector keeps recurrent state across Detect calls, so one instance
// serves exactly one audio stream.
type sileroDetector struct {
	mu  sync.Mutex
	sd  *silero.Detector
	buf []float32

	inSpeech bool
}

// NewSileroFactory builds a Factory loading the ONNX model at modelPath.
// sampleRate must match the session's pinned rate (the model accepts
// 8000 or 16000); threshold is the model's own speech probability cut,
// distinct from the Gate's sustained-duration check.
func NewSileroFactory(modelPath string, sampleRate int, threshold float64, logger commons.Logger) Factory {
	return func() (Detector, error) {
		sd, err := silero.NewDetector(silero.DetectorConfig{
			ModelPath:            modelPath,
			SampleRate:           sampleRate,
			Threshold:            float32(threshold),
			MinSilenceDurationMs: 100,
			SpeechPadMs:          30,
		})
		if err != nil {
			return nil, commons.NewError(commons.KindConfig, err)
		}
		logger.Debugf("silero vad detector loaded: model=%s rate=%d", modelPath, sampleRate)
		return &sileroDetector{sd: sd, buf: make([]float32, 0, sileroWindowSamples*2)}, nil
	}
}

func (d *sileroDetector) Score(frame audio.Frame) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buf = append(d.buf, pcm16ToFloat32(frame.PCM)...)
	for len(d.buf) >= sileroWindowSamples {
		window := d.buf[:sileroWindowSamples]
		d.buf = d.buf[sileroWindowSamples:]

		segments, err := d.sd.Detect(window)
		if err != nil {
			return 0, commons.NewError(commons.KindUpstream, err)
		}
		for _, seg := range segments {
			// A segment without an end timestamp is still open: speech
			// has started and not yet finished.
			d.inSpeech = seg.SpeechEndAt == 0
		}
	}
	if d.inSpeech {
		return 1, nil
	}
	return 0, nil
}

func (d *sileroDetector) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf = d.buf[:0]
	d.inSpeech = false
	return d.sd.Reset()
}

func (d *sileroDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sd.Destroy()
}
