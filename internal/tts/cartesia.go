// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/rapidaai/voicebridge/internal/commons"
)

// cartesiaStream is a single Cartesia TTS websocket connection scoped to
// one turn: raw gorilla/websocket dial, JSON request frames,
// base64-encoded PCM in the response.
type cartesiaStream struct {
	option    *cartesiaOption
	logger    commons.Logger
	contextID string

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	audio chan AudioChunk
	errs  chan error
}

func newCartesiaStream(ctx context.Context, credential map[string]interface{}, opts map[string]interface{}, logger commons.Logger) (*cartesiaStream, error) {
	option, err := newCartesiaOption(credential, opts)
	if err != nil {
		return nil, commons.NewError(commons.KindConfig, err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, option.GetTextToSpeechConnectionString(), nil)
	if err != nil {
		return nil, commons.NewError(commons.KindUpstream, err)
	}

	s := &cartesiaStream{
		option:    option,
		logger:    logger,
		contextID: uuid.New().String(),
		conn:      conn,
		audio:     make(chan AudioChunk, 32),
		errs:      make(chan error, 1),
	}
	go s.readLoop(ctx)
	return s, nil
}

func (s *cartesiaStream) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case s.errs <- commons.NewRetryableError(commons.KindUpstream, err):
			default:
			}
			return
		}

		var payload cartesiaTextToSpeechOutput
		if err := json.Unmarshal(msg, &payload); err != nil {
			s.logger.Errorf("cartesia-tts: invalid json from cartesia: %v", err)
			continue
		}
		if payload.Done {
			select {
			case s.audio <- AudioChunk{IsFinal: true}:
			default:
			}
			continue
		}
		if payload.Data == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(payload.Data)
		if err != nil {
			s.logger.Errorf("cartesia-tts: failed to decode audio payload: %v", err)
			continue
		}
		select {
		case s.audio <- AudioChunk{PCM: decoded, SampleRate: 16000}:
		default:
			s.logger.Warnw("tts audio chunk dropped, consumer too slow")
		}
	}
}

func (s *cartesiaStream) PushText(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return commons.NewError(commons.KindCancelled, errCartesiaStreamClosed)
	}
	input := s.option.GetTextToSpeechInput(text, map[string]interface{}{
		"continue":   true,
		"context_id": s.contextID,
	})
	if err := s.conn.WriteJSON(input); err != nil {
		return commons.NewError(commons.KindUpstream, err)
	}
	return nil
}

func (s *cartesiaStream) Audio() <-chan AudioChunk { return s.audio }
func (s *cartesiaStream) Errors() <-chan error     { return s.errs }

func (s *cartesiaStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	final := s.option.GetTextToSpeechInput("", map[string]interface{}{
		"continue":   false,
		"context_id": s.contextID,
	})
	_ = s.conn.WriteJSON(final)
	return s.conn.Close()
}

var errCartesiaStreamClosed = ttsSentinel("cartesia: stream closed")

type ttsSentinel string

func (e ttsSentinel) Error() string { return string(e) }
