// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv2"
	"cloud.google.com/go/speech/apiv2/speechpb"
	"google.golang.org/api/option"

	"github.com/rapidaai/voicebridge/internal/audio"
	"github.com/rapidaai/voicebridge/internal/commons"
)

const (
	googleDefaultLanguageCode = "en-US"
	googleDefaultModel        = "long"
)

// GoogleOption resolves a credential bag plus listen.* provider options
// into Google Cloud client options and a streaming-recognition config.
type GoogleOption struct {
	clientOptions []option.ClientOption
	opts          ProviderOptions
	projectID     string
}

// NewGoogleOption builds a GoogleOption from the credential bag. Any of
// `key`, `project_id`, and `service_account_key` may be present;
// project_id is mandatory because the v2 API addresses recognizers by
// project path.
func NewGoogleOption(credential map[string]interface{}, opts ProviderOptions) (*GoogleOption, error) {
	co := make([]option.ClientOption, 0)
	var projectID string

	if v, ok := credential["key"]; ok {
		if key, ok := v.(string); ok && key != "" {
			co = append(co, option.WithAPIKey(key))
		}
	}
	if v, ok := credential["project_id"]; ok {
		if prj, ok := v.(string); ok && prj != "" {
			projectID = prj
			co = append(co, option.WithQuotaProject(prj))
		}
	}
	if v, ok := credential["service_account_key"]; ok {
		if serviceCrd, ok := v.(string); ok && serviceCrd != "" {
			co = append(co, option.WithCredentialsJSON([]byte(serviceCrd)))
		}
	}
	if projectID == "" {
		return nil, errIllegalVaultConfig("google")
	}

	return &GoogleOption{clientOptions: co, opts: opts, projectID: projectID}, nil
}

// SpeechToTextOptions produces the v2 streaming-recognition config:
// LINEAR16 16kHz mono with interim results, overridable language codes
// and model via listen.* keys.
func (g *GoogleOption) SpeechToTextOptions() *speechpb.StreamingRecognitionConfig {
	cfg := &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
				ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
					Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
					SampleRateHertz:   16000,
					AudioChannelCount: 1,
				},
			},
			Features: &speechpb.RecognitionFeatures{
				EnableAutomaticPunctuation: true,
				EnableWordConfidence:       true,
			},
			LanguageCodes: []string{googleDefaultLanguageCode},
			Model:         googleDefaultModel,
		},
		StreamingFeatures: &speechpb.StreamingRecognitionFeatures{
			InterimResults: true,
		},
	}

	if language := g.opts.str("listen.language", ""); language != "" {
		codes := make([]string, 0)
		for _, code := range strings.Split(language, ",") {
			if code = strings.TrimSpace(code); code != "" {
				codes = append(codes, code)
			}
		}
		if len(codes) > 0 {
			cfg.Config.LanguageCodes = codes
		}
	}
	if model := g.opts.str("listen.model", ""); model != "" {
		cfg.Config.Model = model
	}
	return cfg
}

// GetRecognizer returns the project-scoped recognizer resource path the
// v2 API requires on every streaming request.
func (g *GoogleOption) GetRecognizer() string {
	if region := g.opts.str("listen.region", ""); region != "" && region != "global" {
		return fmt.Sprintf("projects/%s/locations/%s/recognizers/_", g.projectID, region)
	}
	return fmt.Sprintf("projects/%s/locations/global/recognizers/_", g.projectID)
}

// GetSpeechToTextClientOptions appends the regional endpoint when a
// non-global region is selected.
func (g *GoogleOption) GetSpeechToTextClientOptions() []option.ClientOption {
	if region := g.opts.str("listen.region", ""); region != "" && region != "global" {
		return append(g.clientOptions, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:443", region)))
	}
	return g.clientOptions
}

// googleRecognizer wraps one Google Cloud Speech v2 streaming-recognize
// session as a Recognizer, the third C2 provider alongside Deepgram and
// Azure.
type googleRecognizer struct {
	sessionID  string
	logger     commons.Logger
	recognizer string

	client *speech.Client
	stream speechpb.Speech_StreamingRecognizeClient

	events chan TranscriptEvent
	errs   chan error

	mu     sync.Mutex
	closed bool
}

func newGoogleRecognizer(ctx context.Context, sessionID string, opt *GoogleOption, logger commons.Logger) (*googleRecognizer, error) {
	client, err := speech.NewClient(ctx, opt.GetSpeechToTextClientOptions()...)
	if err != nil {
		return nil, commons.NewError(commons.KindUpstream, err)
	}
	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		_ = client.Close()
		return nil, commons.NewError(commons.KindUpstream, err)
	}

	r := &googleRecognizer{
		sessionID:  sessionID,
		logger:     logger,
		recognizer: opt.GetRecognizer(),
		client:     client,
		stream:     stream,
		events:     make(chan TranscriptEvent, 32),
		errs:       make(chan error, 1),
	}

	// The first message on the stream carries the config; audio follows.
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		Recognizer: r.recognizer,
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: opt.SpeechToTextOptions(),
		},
	}); err != nil {
		_ = client.Close()
		return nil, commons.NewError(commons.KindUpstream, err)
	}

	go r.recvLoop()
	return r, nil
}

func (r *googleRecognizer) recvLoop() {
	for {
		resp, err := r.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || r.isClosed() {
				return
			}
			select {
			case r.errs <- commons.NewRetryableError(commons.KindUpstream, err):
			default:
			}
			return
		}
		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			alt := result.Alternatives[0]
			if alt.Transcript == "" {
				continue
			}
			select {
			case r.events <- TranscriptEvent{
				SessionID:  r.sessionID,
				Text:       alt.Transcript,
				IsFinal:    result.IsFinal,
				Confidence: float64(alt.Confidence),
				EmittedAt:  time.Now(),
			}:
			default:
				r.logger.Warnw("transcript event dropped, consumer too slow", "session_id", r.sessionID)
			}
		}
	}
}

func (r *googleRecognizer) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *googleRecognizer) PushFrame(ctx context.Context, frame audio.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return commons.NewError(commons.KindCancelled, errGoogleClosed)
	}
	if err := r.stream.Send(&speechpb.StreamingRecognizeRequest{
		Recognizer:       r.recognizer,
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{Audio: frame.PCM},
	}); err != nil {
		return commons.NewError(commons.KindUpstream, err)
	}
	return nil
}

var errGoogleClosed = commonsSentinel("google: recognizer closed")

func (r *googleRecognizer) Events() <-chan TranscriptEvent { return r.events }
func (r *googleRecognizer) Errors() <-chan error           { return r.errs }

func (r *googleRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	_ = r.stream.CloseSend()
	return r.client.Close()
}

// NewGoogleFactory builds a Factory dialing Google Cloud Speech v2
// streaming recognition with the given credential bag, the same wiring
// shape as NewDeepgramFactory/NewAzureFactory.
func NewGoogleFactory(credential map[string]interface{}, opts ProviderOptions, logger commons.Logger) Factory {
	return func(ctx context.Context, sessionID string) (Recognizer, error) {
		opt, err := NewGoogleOption(credential, opts)
		if err != nil {
			return nil, commons.NewError(commons.KindConfig, err)
		}
		return newGoogleRecognizer(ctx, sessionID, opt, logger)
	}
}
