// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package tts

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/voicebridge/internal/commons"
	"github.com/rapidaai/voicebridge/internal/stt"
)

// deepgramStream speaks over Deepgram's speak websocket (§4.3). It
// reuses stt.DeepgramOption's connection-string builder since both the
// listen and speak endpoints share the same credential/option
// resolution.
type deepgramStream struct {
	logger commons.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	audio chan AudioChunk
	errs  chan error
}

type deepgramFlushMessage struct {
	Type string `json:"type"`
}

type deepgramTextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func newDeepgramStream(ctx context.Context, credential map[string]interface{}, opts stt.ProviderOptions, logger commons.Logger) (*deepgramStream, error) {
	option, err := stt.NewDeepgramOption(credential, opts)
	if err != nil {
		return nil, commons.NewError(commons.KindConfig, err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, option.GetTextToSpeechConnectionString(), nil)
	if err != nil {
		return nil, commons.NewError(commons.KindUpstream, err)
	}

	s := &deepgramStream{
		logger: logger,
		conn:   conn,
		audio:  make(chan AudioChunk, 32),
		errs:   make(chan error, 1),
	}
	go s.readLoop(ctx)
	return s, nil
}

func (s *deepgramStream) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case s.errs <- commons.NewRetryableError(commons.KindUpstream, err):
			default:
			}
			return
		}

		if msgType == websocket.BinaryMessage {
			select {
			case s.audio <- AudioChunk{PCM: msg, SampleRate: 16000}:
			default:
				s.logger.Warnw("tts audio chunk dropped, consumer too slow")
			}
			continue
		}

		var control struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &control); err == nil && control.Type == "Flushed" {
			select {
			case s.audio <- AudioChunk{IsFinal: true}:
			default:
			}
		}
	}
}

func (s *deepgramStream) PushText(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return commons.NewError(commons.KindCancelled, errCartesiaStreamClosed)
	}
	if err := s.conn.WriteJSON(deepgramTextMessage{Type: "Speak", Text: text}); err != nil {
		return commons.NewError(commons.KindUpstream, err)
	}
	return s.conn.WriteJSON(deepgramFlushMessage{Type: "Flush"})
}

func (s *deepgramStream) Audio() <-chan AudioChunk { return s.audio }
func (s *deepgramStream) Errors() <-chan error     { return s.errs }

func (s *deepgramStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.conn.WriteJSON(deepgramFlushMessage{Type: "Close"})
	return s.conn.Close()
}
