// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package tts

import (
	"context"
	"errors"
	"io"
	"sync"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"google.golang.org/api/option"

	"github.com/rapidaai/voicebridge/internal/commons"
)

// googleDefaultVoice mirrors the synthesis default used for the Google
// provider when an agent's voice profile does not name one.
const googleDefaultVoice = "en-US-Chirp-HD-F"

// googleStream wraps one Google Cloud Text-to-Speech streaming-synthesize
// session as a Stream, the third C3 provider alongside Deepgram and
// Cartesia. PCM comes back at 16kHz to match the session's pinned rate.
type googleStream struct {
	sessionID string
	logger    commons.Logger

	client *texttospeech.Client
	stream texttospeechpb.TextToSpeech_StreamingSynthesizeClient

	audio chan AudioChunk
	errs  chan error

	mu     sync.Mutex
	closed bool
}

func newGoogleStream(ctx context.Context, sessionID, voice string, credential map[string]interface{}, logger commons.Logger) (*googleStream, error) {
	co := make([]option.ClientOption, 0)
	if v, ok := credential["key"].(string); ok && v != "" {
		co = append(co, option.WithAPIKey(v))
	}
	if v, ok := credential["project_id"].(string); ok && v != "" {
		co = append(co, option.WithQuotaProject(v))
	}
	if v, ok := credential["service_account_key"].(string); ok && v != "" {
		co = append(co, option.WithCredentialsJSON([]byte(v)))
	}

	client, err := texttospeech.NewClient(ctx, co...)
	if err != nil {
		return nil, commons.NewError(commons.KindUpstream, err)
	}
	stream, err := client.StreamingSynthesize(ctx)
	if err != nil {
		_ = client.Close()
		return nil, commons.NewError(commons.KindUpstream, err)
	}

	if voice == "" {
		voice = googleDefaultVoice
	}
	// The first message on the stream carries the config; text follows.
	if err := stream.Send(&texttospeechpb.StreamingSynthesizeRequest{
		StreamingRequest: &texttospeechpb.StreamingSynthesizeRequest_StreamingConfig{
			StreamingConfig: &texttospeechpb.StreamingSynthesizeConfig{
				Voice: &texttospeechpb.VoiceSelectionParams{Name: voice},
				StreamingAudioConfig: &texttospeechpb.StreamingAudioConfig{
					AudioEncoding:   texttospeechpb.AudioEncoding_PCM,
					SampleRateHertz: 16000,
				},
			},
		},
	}); err != nil {
		_ = client.Close()
		return nil, commons.NewError(commons.KindUpstream, err)
	}

	s := &googleStream{
		sessionID: sessionID,
		logger:    logger,
		client:    client,
		stream:    stream,
		audio:     make(chan AudioChunk, 32),
		errs:      make(chan error, 1),
	}
	go s.recvLoop()
	return s, nil
}

func (s *googleStream) recvLoop() {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Upstream has flushed everything we sent before CloseSend.
				select {
				case s.audio <- AudioChunk{IsFinal: true}:
				default:
				}
				return
			}
			if s.isClosed() {
				return
			}
			select {
			case s.errs <- commons.NewRetryableError(commons.KindUpstream, err):
			default:
			}
			return
		}
		if len(resp.GetAudioContent()) == 0 {
			continue
		}
		select {
		case s.audio <- AudioChunk{PCM: resp.GetAudioContent(), SampleRate: 16000}:
		default:
			s.logger.Warnw("tts audio chunk dropped, consumer too slow", "session_id", s.sessionID)
		}
	}
}

func (s *googleStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *googleStream) PushText(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return commons.NewError(commons.KindCancelled, errGoogleStreamClosed)
	}
	if err := s.stream.Send(&texttospeechpb.StreamingSynthesizeRequest{
		StreamingRequest: &texttospeechpb.StreamingSynthesizeRequest_Input{
			Input: &texttospeechpb.StreamingSynthesisInput{
				InputSource: &texttospeechpb.StreamingSynthesisInput_Text{Text: text},
			},
		},
	}); err != nil {
		return commons.NewError(commons.KindUpstream, err)
	}
	return nil
}

var errGoogleStreamClosed = errors.New("google: tts stream closed")

func (s *googleStream) Audio() <-chan AudioChunk { return s.audio }
func (s *googleStream) Errors() <-chan error     { return s.errs }

func (s *googleStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	_ = s.stream.CloseSend()
	return s.client.Close()
}

// NewGoogleFactory builds a Factory speaking Google Cloud Text-to-Speech
// streaming synthesis, selected per voice profile the same way the
// Deepgram and Cartesia factories are.
func NewGoogleFactory(credential map[string]interface{}, logger commons.Logger) Factory {
	return func(ctx context.Context, sessionID, voice string) (Stream, error) {
		return newGoogleStream(ctx, sessionID, voice, credential, logger)
	}
}
