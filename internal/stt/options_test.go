// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package stt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDeepgramOption_ValidCredentials(t *testing.T) {
	opt, err := NewDeepgramOption(map[string]interface{}{"key": "test-api-key"}, ProviderOptions{})
	require.NoError(t, err)
	assert.Equal(t, "test-api-key", opt.GetKey())
}

func TestNewDeepgramOption_MissingKey(t *testing.T) {
	opt, err := NewDeepgramOption(map[string]interface{}{"other": "value"}, ProviderOptions{})
	assert.Error(t, err)
	assert.Nil(t, opt)
	assert.Contains(t, err.Error(), "illegal vault config")
}

func TestDeepgramGetEncoding(t *testing.T) {
	opt, _ := NewDeepgramOption(map[string]interface{}{"key": "k"}, ProviderOptions{})
	assert.Equal(t, "linear16", opt.GetEncoding())
}

func TestSpeechToTextOptions_Defaults(t *testing.T) {
	opt, _ := NewDeepgramOption(map[string]interface{}{"key": "k"}, ProviderOptions{})
	sttOpts := opt.SpeechToTextOptions()

	assert.Equal(t, "nova", sttOpts.Model)
	assert.Equal(t, "en-US", sttOpts.Language)
	assert.Equal(t, 1, sttOpts.Channels)
	assert.True(t, sttOpts.SmartFormat)
	assert.True(t, sttOpts.InterimResults)
	assert.True(t, sttOpts.FillerWords)
	assert.False(t, sttOpts.VadEvents)
	assert.Equal(t, "5", sttOpts.Endpointing)
	assert.True(t, sttOpts.Punctuate)
	assert.True(t, sttOpts.NoDelay)
	assert.Equal(t, "linear16", sttOpts.Encoding)
	assert.Equal(t, 16000, sttOpts.SampleRate)
	assert.False(t, sttOpts.Diarize)
	assert.False(t, sttOpts.Multichannel)
}

func TestSpeechToTextOptions_WithOverrides(t *testing.T) {
	opts := ProviderOptions{
		"listen.language":     "fr-FR",
		"listen.smart_format": false,
		"listen.filler_words": false,
		"listen.vad_events":   true,
		"listen.endpointing":  "10",
		"listen.multichannel": true,
		"listen.model":        "nova-2",
	}
	opt, _ := NewDeepgramOption(map[string]interface{}{"key": "k"}, opts)
	sttOpts := opt.SpeechToTextOptions()

	assert.Equal(t, "fr-FR", sttOpts.Language)
	assert.False(t, sttOpts.SmartFormat)
	assert.False(t, sttOpts.FillerWords)
	assert.True(t, sttOpts.VadEvents)
	assert.Equal(t, "10", sttOpts.Endpointing)
	assert.True(t, sttOpts.Multichannel)
	assert.Equal(t, "nova-2", sttOpts.Model)
	assert.Equal(t, "linear16", sttOpts.Encoding)
	assert.Equal(t, 16000, sttOpts.SampleRate)
}

func TestSpeechToTextOptions_KeywordsNova2(t *testing.T) {
	opts := ProviderOptions{
		"listen.model":   "nova-2",
		"listen.keyword": []interface{}{"hello", "world"},
	}
	opt, _ := NewDeepgramOption(map[string]interface{}{"key": "k"}, opts)
	sttOpts := opt.SpeechToTextOptions()

	assert.Equal(t, []string{"hello", "world"}, sttOpts.Keywords)
	assert.Empty(t, sttOpts.Keyterm)
}

func TestSpeechToTextOptions_KeywordsNova3(t *testing.T) {
	opts := ProviderOptions{
		"listen.model":   "nova-3",
		"listen.keyword": []interface{}{"alpha", "beta"},
	}
	opt, _ := NewDeepgramOption(map[string]interface{}{"key": "k"}, opts)
	sttOpts := opt.SpeechToTextOptions()

	assert.Equal(t, []string{"alpha", "beta"}, sttOpts.Keyterm)
	assert.Empty(t, sttOpts.Keywords)
}

func TestGetTextToSpeechConnectionString_Default(t *testing.T) {
	opt, _ := NewDeepgramOption(map[string]interface{}{"key": "k"}, ProviderOptions{})
	connStr := opt.GetTextToSpeechConnectionString()

	assert.Contains(t, connStr, "wss://api.deepgram.com/v1/speak?")
	assert.Contains(t, connStr, "encoding=linear16")
	assert.Contains(t, connStr, "sample_rate=16000")
	assert.NotContains(t, connStr, "model=")
}

func TestGetTextToSpeechConnectionString_WithVoice(t *testing.T) {
	opts := ProviderOptions{"speak.voice.id": "aura-asteria-en"}
	opt, _ := NewDeepgramOption(map[string]interface{}{"key": "k"}, opts)
	connStr := opt.GetTextToSpeechConnectionString()

	assert.Contains(t, connStr, "model=aura-asteria-en")
}
