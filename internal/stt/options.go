// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package stt

import "strings"

// ProviderOptions is a flat, dotted-key option bag using the
// "listen.*"/"speak.*" key convention shared by the provider option
// builders.
type ProviderOptions map[string]interface{}

func (o ProviderOptions) str(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func (o ProviderOptions) boolean(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func (o ProviderOptions) stringSlice(key string) []string {
	v, ok := o[key]
	if !ok {
		return nil
	}
	switch val := v.(type) {
	case []string:
		return val
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, e := range val {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		trimmed := strings.Trim(val, "[]")
		fields := strings.Fields(trimmed)
		return fields
	}
	return nil
}

// DeepgramSpeechToTextOptions is the fully-resolved shape of a Deepgram
// live-transcription request (nova model, en-US, smart formatting on,
// interim results on, endpointing "5", encoding/sample-rate hardcoded to
// the bridge's internal PCM format).
type DeepgramSpeechToTextOptions struct {
	Model          string
	Language       string
	Channels       int
	SmartFormat    bool
	InterimResults bool
	FillerWords    bool
	VadEvents      bool
	Endpointing    string
	Punctuate      bool
	NoDelay        bool
	Encoding       string
	SampleRate     int
	Diarize        bool
	Multichannel   bool
	Keywords       []string
	Keyterm        []string
}

// DeepgramOption resolves a credential and a ProviderOptions bag into the
// concrete request shapes Deepgram's listen and speak endpoints need.
type DeepgramOption struct {
	apiKey string
	opts   ProviderOptions
}

// NewDeepgramOption validates the credential map and returns a resolver.
// A missing "key" entry is an illegal vault config.
func NewDeepgramOption(credential map[string]interface{}, opts ProviderOptions) (*DeepgramOption, error) {
	key, ok := credential["key"].(string)
	if !ok || key == "" {
		return nil, errIllegalVaultConfig("deepgram")
	}
	return &DeepgramOption{apiKey: key, opts: opts}, nil
}

func (o *DeepgramOption) GetKey() string      { return o.apiKey }
func (o *DeepgramOption) GetEncoding() string { return "linear16" }

// SpeechToTextOptions resolves the full listen request, applying the
// nova-2/nova-3 keyword-vs-keyterm split: nova-3 uses the newer `keyterm`
// boosting field, earlier models use `keyword`.
func (o *DeepgramOption) SpeechToTextOptions() DeepgramSpeechToTextOptions {
	model := o.opts.str("listen.model", "nova")
	out := DeepgramSpeechToTextOptions{
		Model:          model,
		Language:       o.opts.str("listen.language", "en-US"),
		Channels:       1,
		SmartFormat:    o.opts.boolean("listen.smart_format", true),
		InterimResults: o.opts.boolean("listen.interim_results", true),
		FillerWords:    o.opts.boolean("listen.filler_words", true),
		VadEvents:      o.opts.boolean("listen.vad_events", false),
		Endpointing:    o.opts.str("listen.endpointing", "5"),
		Punctuate:      o.opts.boolean("listen.punctuate", true),
		NoDelay:        o.opts.boolean("listen.no_delay", true),
		Encoding:       "linear16",
		SampleRate:     16000,
		Diarize:        o.opts.boolean("listen.diarize", false),
		Multichannel:   o.opts.boolean("listen.multichannel", false),
	}

	if keywords := o.opts.stringSlice("listen.keyword"); len(keywords) > 0 {
		if strings.HasPrefix(model, "nova-3") {
			out.Keyterm = keywords
		} else {
			out.Keywords = keywords
		}
	}
	return out
}

// GetTextToSpeechConnectionString builds the Deepgram speak websocket URL,
// omitting the model query parameter entirely when no voice is
// configured.
func (o *DeepgramOption) GetTextToSpeechConnectionString() string {
	var b strings.Builder
	b.WriteString("wss://api.deepgram.com/v1/speak?encoding=linear16&sample_rate=16000")
	if voice := o.opts.str("speak.voice.id", ""); voice != "" {
		b.WriteString("&model=")
		b.WriteString(voice)
	}
	return b.String()
}

type illegalVaultConfigError struct{ provider string }

func errIllegalVaultConfig(provider string) error {
	return &illegalVaultConfigError{provider: provider}
}

func (e *illegalVaultConfigError) Error() string {
	return "illegal vault config: missing api key for provider " + e.provider
}
