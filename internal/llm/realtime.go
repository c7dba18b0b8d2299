// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/voicebridge/internal/audio"
	"github.com/rapidaai/voicebridge/internal/commons"
)

// Realtime wire envelope: a request/response pair carrying
// configuration and user messages out, streamed assistant packets and
// inline audio frames back, for the end-to-end voice-to-voice path.
type wsMessageType string

const (
	wsTypeConfiguration wsMessageType = "configuration"
	wsTypeUserAudio     wsMessageType = "user_audio"
	wsTypeStream        wsMessageType = "stream"
	wsTypeAudio         wsMessageType = "audio"
	wsTypeInterruption  wsMessageType = "interruption"
	wsTypeError         wsMessageType = "error"
	wsTypePing          wsMessageType = "ping"
	wsTypePong          wsMessageType = "pong"
)

type wsRequest struct {
	Type      wsMessageType `json:"type"`
	Timestamp int64         `json:"timestamp"`
	Data      interface{}   `json:"data,omitempty"`
}

type wsResponse struct {
	Type    wsMessageType   `json:"type"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *wsErrorData    `json:"error,omitempty"`
}

type wsConfigurationData struct {
	SessionID  string `json:"session_id"`
	VoiceID    string `json:"voice_id,omitempty"`
	SampleRate int    `json:"sample_rate"`
}

type wsUserAudioData struct {
	Data string `json:"data"`
}

type wsStreamData struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

type wsAudioData struct {
	Data string `json:"data"`
}

type wsErrorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// realtimeWebsocketClient is the RealtimeClient implementation: a
// persistent gorilla/websocket connection to an external realtime-voice
// provider, a response-listener goroutine decoding into typed packets,
// and a write mutex distinct from the listener (§4.4).
type realtimeWebsocketClient struct {
	sessionID string
	url       string
	headers   http.Header
	logger    commons.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
}

// NewRealtimeWebsocketFactory builds a RealtimeFactory dialing providerURL
// for every session, one connection per lease (§4.4 RealtimeVoice).
func NewRealtimeWebsocketFactory(providerURL string, headers http.Header, logger commons.Logger) RealtimeFactory {
	return func(ctx context.Context, sessionID string) (RealtimeClient, error) {
		c := &realtimeWebsocketClient{
			sessionID: sessionID,
			url:       providerURL,
			headers:   headers,
			logger:    logger,
			done:      make(chan struct{}),
		}
		if err := c.connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}

func (c *realtimeWebsocketClient) connect(ctx context.Context) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return commons.NewError(commons.KindConfig, fmt.Errorf("parse realtime url: %w", err))
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), c.headers)
	if err != nil {
		return commons.NewError(commons.KindUpstream, fmt.Errorf("dial realtime websocket: %w", err))
	}
	conn.SetReadLimit(10 * 1024 * 1024)
	c.conn = conn
	return nil
}

func (c *realtimeWebsocketClient) send(msg wsRequest) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return commons.NewError(commons.KindInternal, fmt.Errorf("realtime connection is nil"))
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return commons.NewError(commons.KindInternal, err)
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// RealtimeVoice drains audioIn to the provider and returns the provider's
// synthesized audio and inline transcript streams (§4.4). This path
// bypasses C6/C7 entirely — the provider does its own recognition, LLM
// turn, and synthesis behind one connection.
func (c *realtimeWebsocketClient) RealtimeVoice(ctx context.Context, audioIn <-chan audio.Frame) (<-chan audio.Frame, <-chan TranscriptEvent, error) {
	if err := c.send(wsRequest{
		Type:      wsTypeConfiguration,
		Timestamp: time.Now().UnixMilli(),
		Data:      wsConfigurationData{SessionID: c.sessionID, SampleRate: 24000},
	}); err != nil {
		return nil, nil, err
	}

	audioOut := make(chan audio.Frame, 32)
	transcripts := make(chan TranscriptEvent, 32)

	go c.writeLoop(ctx, audioIn)
	go c.readLoop(ctx, audioOut, transcripts)

	return audioOut, transcripts, nil
}

func (c *realtimeWebsocketClient) writeLoop(ctx context.Context, audioIn <-chan audio.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case frame, ok := <-audioIn:
			if !ok {
				return
			}
			_ = c.send(wsRequest{
				Type:      wsTypeUserAudio,
				Timestamp: time.Now().UnixMilli(),
				Data:      wsUserAudioData{Data: base64.StdEncoding.EncodeToString(frame.PCM)},
			})
		}
	}
}

func (c *realtimeWebsocketClient) readLoop(ctx context.Context, audioOut chan<- audio.Frame, transcripts chan<- TranscriptEvent) {
	defer close(audioOut)
	defer close(transcripts)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warnw("realtime websocket read error", "session_id", c.sessionID, "err", err)
			}
			return
		}

		var resp wsResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			c.logger.Warnw("realtime websocket decode error", "session_id", c.sessionID, "err", err)
			continue
		}

		switch resp.Type {
		case wsTypeAudio:
			var d wsAudioData
			if err := json.Unmarshal(resp.Data, &d); err != nil {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(d.Data)
			if err != nil {
				continue
			}
			select {
			case audioOut <- audio.Frame{PCM: pcm, SampleRate: 24000, ChannelCount: 1}:
			default:
				c.logger.Warnw("realtime audio frame dropped, consumer too slow", "session_id", c.sessionID)
			}
		case wsTypeStream:
			var d wsStreamData
			if err := json.Unmarshal(resp.Data, &d); err != nil {
				continue
			}
			transcripts <- TranscriptEvent{Text: d.Text, IsFinal: d.IsFinal}
		case wsTypeInterruption:
			// the provider detected the caller barging in on its own
			// synthesis; the Conductor observes this as a transcript
			// partial arriving, nothing further to do here.
		case wsTypeError:
			var d wsErrorData
			_ = json.Unmarshal(resp.Data, &d)
			c.logger.Warnw("realtime provider error", "session_id", c.sessionID, "code", d.Code, "message", d.Message)
		case wsTypePing:
			_ = c.send(wsRequest{Type: wsTypePong, Timestamp: time.Now().UnixMilli()})
		}
	}
}

// Close releases the underlying connection. Safe to call multiple times.
func (c *realtimeWebsocketClient) Close() error {
	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
