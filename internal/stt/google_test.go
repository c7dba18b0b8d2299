// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package stt

import (
	"testing"

	"cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGoogleOption_ValidCredentials(t *testing.T) {
	opt, err := NewGoogleOption(map[string]interface{}{
		"key":                 "test-api-key",
		"project_id":          "test-project",
		"service_account_key": `{"type":"service_account"}`,
	}, ProviderOptions{})
	require.NoError(t, err)
	assert.Equal(t, "test-project", opt.projectID)
	assert.Len(t, opt.clientOptions, 3) // API key + quota project + credentials JSON
}

func TestNewGoogleOption_MissingProjectID(t *testing.T) {
	_, err := NewGoogleOption(map[string]interface{}{
		"key": "test-api-key",
	}, ProviderOptions{})
	assert.Error(t, err)
}

func TestGoogleOption_SpeechToTextOptions_Defaults(t *testing.T) {
	opt, err := NewGoogleOption(map[string]interface{}{"project_id": "p"}, ProviderOptions{})
	require.NoError(t, err)

	cfg := opt.SpeechToTextOptions()
	assert.Equal(t, []string{googleDefaultLanguageCode}, cfg.Config.LanguageCodes)
	assert.Equal(t, googleDefaultModel, cfg.Config.Model)
	assert.True(t, cfg.StreamingFeatures.InterimResults)

	dec, ok := cfg.Config.DecodingConfig.(*speechpb.RecognitionConfig_ExplicitDecodingConfig)
	require.True(t, ok)
	assert.Equal(t, speechpb.ExplicitDecodingConfig_LINEAR16, dec.ExplicitDecodingConfig.Encoding)
	assert.Equal(t, int32(16000), dec.ExplicitDecodingConfig.SampleRateHertz)
}

func TestGoogleOption_SpeechToTextOptions_LanguageAndModelOverride(t *testing.T) {
	opt, err := NewGoogleOption(map[string]interface{}{"project_id": "p"}, ProviderOptions{
		"listen.language": "en-GB, de-DE",
		"listen.model":    "telephony",
	})
	require.NoError(t, err)

	cfg := opt.SpeechToTextOptions()
	assert.Equal(t, []string{"en-GB", "de-DE"}, cfg.Config.LanguageCodes)
	assert.Equal(t, "telephony", cfg.Config.Model)
}

func TestGoogleOption_GetRecognizer(t *testing.T) {
	global, err := NewGoogleOption(map[string]interface{}{"project_id": "p"}, ProviderOptions{})
	require.NoError(t, err)
	assert.Equal(t, "projects/p/locations/global/recognizers/_", global.GetRecognizer())

	regional, err := NewGoogleOption(map[string]interface{}{"project_id": "p"}, ProviderOptions{
		"listen.region": "us-central1",
	})
	require.NoError(t, err)
	assert.Equal(t, "projects/p/locations/us-central1/recognizers/_", regional.GetRecognizer())
}

func TestGoogleOption_RegionalEndpoint(t *testing.T) {
	global, err := NewGoogleOption(map[string]interface{}{"project_id": "p", "key": "k"}, ProviderOptions{})
	require.NoError(t, err)
	assert.Len(t, global.GetSpeechToTextClientOptions(), 2)

	regional, err := NewGoogleOption(map[string]interface{}{"project_id": "p", "key": "k"}, ProviderOptions{
		"listen.region": "europe-west4",
	})
	require.NoError(t, err)
	// regional endpoint option appended on top of credential options
	assert.Len(t, regional.GetSpeechToTextClientOptions(), 3)
}
