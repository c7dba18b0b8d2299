// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audio

import (
	"testing"

	"github.com/rapidaai/voicebridge/internal/commons"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrowserCodec_EncodeDecodeAudio_RoundTrip(t *testing.T) {
	codec := BrowserCodec{SampleRate: 16000}
	pcm := make([]byte, 640) // 20ms @ 16kHz mono 16-bit
	for i := range pcm {
		pcm[i] = byte(i % 7)
	}
	raw, err := codec.EncodeAudioFrame(Frame{PCM: pcm, SampleRate: 16000})
	require.NoError(t, err)

	decoded, err := codec.DecodeAudio(raw)
	require.NoError(t, err)
	assert.Equal(t, pcm, decoded.PCM)
	assert.Equal(t, 16000, decoded.SampleRate)
}

func TestBrowserCodec_DecodeAudio_RejectsSampleRateMismatch(t *testing.T) {
	codec := BrowserCodec{SampleRate: 16000}
	raw := []byte(`{"type":"audio","data":"AAAA","sr":24000}`)

	_, err := codec.DecodeAudio(raw)
	require.Error(t, err)
	assert.Equal(t, commons.KindProtocol, commons.KindOf(err))
}

func TestBrowserCodec_DecodeControl(t *testing.T) {
	codec := BrowserCodec{SampleRate: 16000}
	env, err := codec.DecodeControl([]byte(`{"type":"interrupt"}`))
	require.NoError(t, err)
	assert.Equal(t, BrowserInterrupt, env.Type)
}

func TestTelephonyCodec_EncodeDecodeAudio_RoundTrip(t *testing.T) {
	codec := TelephonyCodec{SampleRate: 16000}
	pcm := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	raw, err := codec.EncodeAudioFrame(Frame{PCM: pcm, SampleRate: 16000})
	require.NoError(t, err)

	decoded, err := codec.DecodeAudio(raw)
	require.NoError(t, err)
	assert.Equal(t, pcm, decoded.PCM)
}

func TestTelephonyCodec_IsStopAudio(t *testing.T) {
	codec := TelephonyCodec{SampleRate: 16000}
	assert.True(t, codec.IsStopAudio([]byte(`{"kind":"StopAudio"}`)))
	assert.False(t, codec.IsStopAudio([]byte(`{"kind":"AudioData","audioData":{"data":"AA=="}}`)))
}

func TestFrameSink_GroupsIntoTwentyMsFrames(t *testing.T) {
	sink := NewFrameSink(16000) // 640 bytes/frame
	frames := sink.Push(make([]byte, 1500))
	require.Len(t, frames, 2)
	assert.Len(t, frames[0].PCM, 640)
	assert.Len(t, frames[1].PCM, 640)

	tail := sink.Flush()
	require.NotNil(t, tail)
	assert.Len(t, tail.PCM, 1500-2*640)
}

func TestFrameSink_FlushEmptyReturnsNil(t *testing.T) {
	sink := NewFrameSink(16000)
	assert.Nil(t, sink.Flush())
}

func TestBytesPerFrame(t *testing.T) {
	assert.Equal(t, 640, BytesPerFrame(16000))
	assert.Equal(t, 960, BytesPerFrame(24000))
}
