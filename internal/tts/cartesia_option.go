// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package tts

import (
	"fmt"
	"net/url"
	"strings"
)

// CARTESIA_API_VERSION is the Cartesia wire protocol version this client
// speaks.
const CARTESIA_API_VERSION = "2024-06-10"

const (
	defaultCartesiaModel   = "sonic-2-2025-03-07"
	defaultCartesiaVoiceID = "c2ac25f9-ecc4-4f56-9095-651354df60c0"
)

// cartesiaVoice is the `voice` object in a Cartesia TTS request.
type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

// cartesiaOutputFormat is the `output_format` object in a Cartesia TTS
// request; the bridge always asks for raw PCM to match its internal
// AudioFrame representation.
type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// cartesiaExperimentalControls exposes Cartesia's speed/emotion knobs.
type cartesiaExperimentalControls struct {
	Speed   string   `json:"speed,omitempty"`
	Emotion []string `json:"emotion,omitempty"`
}

// cartesiaTextToSpeechInput is one outbound `Transform` frame.
type cartesiaTextToSpeechInput struct {
	Transcript           string                        `json:"transcript"`
	ModelID              string                        `json:"model_id"`
	Voice                cartesiaVoice                 `json:"voice"`
	OutputFormat         cartesiaOutputFormat          `json:"output_format"`
	Language             string                        `json:"language,omitempty"`
	AddTimestamps        bool                           `json:"add_timestamps"`
	Continue             bool                           `json:"continue,omitempty"`
	ContextID            string                         `json:"context_id,omitempty"`
	ExperimentalControls *cartesiaExperimentalControls `json:"__experimental_controls,omitempty"`
}

// cartesiaTextToSpeechOutput is one inbound server frame.
type cartesiaTextToSpeechOutput struct {
	ContextID string `json:"context_id"`
	Data      string `json:"data"`
	Done      bool   `json:"done"`
}

// cartesiaOption resolves a credential and ProviderOptions bag into
// request shapes for both the TTS and STT websocket endpoints.
type cartesiaOption struct {
	key  string
	opts providerOptions
}

type providerOptions map[string]interface{}

func (o providerOptions) str(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func newCartesiaOption(credential map[string]interface{}, opts map[string]interface{}) (*cartesiaOption, error) {
	key, ok := credential["key"].(string)
	if !ok || key == "" {
		return nil, fmt.Errorf("unable to get config parameters: missing cartesia api key")
	}
	return &cartesiaOption{key: key, opts: providerOptions(opts)}, nil
}

func (o *cartesiaOption) GetEncoding() string { return "pcm_s16le" }

// GetTextToSpeechInput builds one Transform request, applying the
// continue/context_id overrides the streaming caller passes per chunk.
func (o *cartesiaOption) GetTextToSpeechInput(transcript string, overrides map[string]interface{}) cartesiaTextToSpeechInput {
	input := cartesiaTextToSpeechInput{
		Transcript: transcript,
		ModelID:    o.opts.str("speak.model", defaultCartesiaModel),
		Voice: cartesiaVoice{
			Mode: "id",
			ID:   o.opts.str("speak.voice.id", defaultCartesiaVoiceID),
		},
		OutputFormat: cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: 16000,
		},
		Language: o.opts.str("speak.language", ""),
	}

	if v, ok := overrides["continue"].(bool); ok {
		input.Continue = v
	}
	if v, ok := overrides["context_id"].(string); ok {
		input.ContextID = v
	}

	speed := o.opts.str("speak.__experimental_controls.speed", "")
	emotionRaw := o.opts.str("speak.__experimental_controls.emotion", "")
	if speed != "" || emotionRaw != "" {
		controls := &cartesiaExperimentalControls{Speed: speed}
		if emotionRaw != "" {
			controls.Emotion = strings.Split(emotionRaw, "<|||>")
		}
		input.ExperimentalControls = controls
	}
	return input
}

// GetTextToSpeechConnectionString builds the Cartesia TTS websocket URL.
func (o *cartesiaOption) GetTextToSpeechConnectionString() string {
	v := url.Values{}
	v.Set("api_key", o.key)
	v.Set("cartesia_version", CARTESIA_API_VERSION)
	return "wss://api.cartesia.ai/tts/websocket?" + v.Encode()
}

// GetSpeechToTextConnectionString builds the Cartesia STT websocket URL.
func (o *cartesiaOption) GetSpeechToTextConnectionString() string {
	v := url.Values{}
	v.Set("api_key", o.key)
	v.Set("cartesia_version", CARTESIA_API_VERSION)
	v.Set("encoding", "pcm_s16le")
	v.Set("sample_rate", "16000")
	if lang := o.opts.str("listen.language", ""); lang != "" {
		v.Set("language", lang)
	}
	if model := o.opts.str("listen.model", ""); model != "" {
		v.Set("model", model)
	}
	return "wss://api.cartesia.ai/stt/websocket?" + v.Encode()
}
