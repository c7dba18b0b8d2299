// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audio

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rapidaai/voicebridge/internal/commons"
)

// TelephonyKind enumerates the provider's message "kind" field (§4.1, §6).
type TelephonyKind string

const (
	TelephonyAudioData  TelephonyKind = "AudioData"
	TelephonyStopAudio  TelephonyKind = "StopAudio"
)

// TelephonyAudioPayload is the inner `audioData` object.
type TelephonyAudioPayload struct {
	Data      string `json:"data"`
	Timestamp string `json:"timestamp,omitempty"`
	Silent    bool   `json:"silent,omitempty"`
}

// TelephonyEnvelope is the JSON shape exchanged on the telephony media
// WebSocket `/call/stream`.
type TelephonyEnvelope struct {
	Kind      TelephonyKind          `json:"kind"`
	AudioData *TelephonyAudioPayload `json:"audioData,omitempty"`
}

// TelephonyCodec decodes/encodes the telephony provider dialect for one
// session, pinned to the sample rate negotiated at call setup (16kHz for
// the transcription variant, 24kHz for the realtime variant, per §4.1).
type TelephonyCodec struct {
	SampleRate int
}

// DecodeAudio parses an inbound AudioData envelope into a Frame.
func (c TelephonyCodec) DecodeAudio(raw []byte) (Frame, error) {
	var env TelephonyEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Frame{}, commons.NewError(commons.KindProtocol, fmt.Errorf("decode telephony envelope: %w", err))
	}
	if env.Kind != TelephonyAudioData || env.AudioData == nil {
		return Frame{}, commons.NewError(commons.KindProtocol, fmt.Errorf("expected AudioData, got kind %q", env.Kind))
	}
	pcm, err := base64.StdEncoding.DecodeString(env.AudioData.Data)
	if err != nil {
		return Frame{}, commons.NewError(commons.KindProtocol, fmt.Errorf("decode base64 audio: %w", err))
	}
	f := Frame{PCM: pcm, SampleRate: c.SampleRate, ChannelCount: 1}
	if env.AudioData.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339, env.AudioData.Timestamp); err == nil {
			f.TimestampUs = t.UnixMicro()
		}
	}
	return f, nil
}

// IsStopAudio reports whether raw is a StopAudio control message.
func (c TelephonyCodec) IsStopAudio(raw []byte) bool {
	var env TelephonyEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false
	}
	return env.Kind == TelephonyStopAudio
}

// EncodeAudioFrame packages one outbound 20ms PCM frame for the provider.
func (c TelephonyCodec) EncodeAudioFrame(f Frame) ([]byte, error) {
	return json.Marshal(TelephonyEnvelope{
		Kind: TelephonyAudioData,
		AudioData: &TelephonyAudioPayload{
			Data: base64.StdEncoding.EncodeToString(f.PCM),
		},
	})
}

// EncodeStopAudio packages an outbound StopAudio control message, sent on
// barge-in to immediately silence the provider's playback buffer.
func (c TelephonyCodec) EncodeStopAudio() ([]byte, error) {
	return json.Marshal(TelephonyEnvelope{Kind: TelephonyStopAudio})
}
