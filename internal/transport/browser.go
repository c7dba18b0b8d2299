// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package transport

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/voicebridge/internal/audio"
	"github.com/rapidaai/voicebridge/internal/commons"
	"github.com/rapidaai/voicebridge/internal/session"
)

// framesBacklog bounds the decoded-frame queue handed to Recv, separate
// from the raw inboundBacklog on socket (decoding can lag behind reads
// briefly under a burst of small messages).
const framesBacklog = 64

// BrowserTransport implements conductor.Transport over the browser
// `/realtime` WebSocket dialect (§4.9, §6), JSON envelopes both ways.
type BrowserTransport struct {
	sock   *socket
	codec  audio.BrowserCodec
	sink   *audio.FrameSink
	logger commons.Logger

	frames chan audio.Frame
}

// NewBrowserTransport wraps an already-upgraded WebSocket connection.
func NewBrowserTransport(conn *websocket.Conn, sampleRate int, logger commons.Logger) *BrowserTransport {
	t := &BrowserTransport{
		sock:   newSocket(conn, logger),
		codec:  audio.BrowserCodec{SampleRate: sampleRate},
		sink:   audio.NewFrameSink(sampleRate),
		logger: logger,
		frames: make(chan audio.Frame, framesBacklog),
	}
	go t.decodeLoop()
	return t
}

// decodeLoop drains the socket's raw messages, splitting audio messages
// into fixed 20ms frames via FrameSink regardless of the browser's own
// chunk boundaries, and closes the frames channel once the connection
// goes away so Recv reports ok=false. A malformed envelope or a
// Protocol-kind decode failure (e.g. a sample-rate mismatch) closes the
// transport with code 1002 and ends the session (§7) rather than
// letting a misbehaving client pin the session open with garbage.
func (t *BrowserTransport) decodeLoop() {
	defer close(t.frames)
	for raw := range t.sock.raw {
		var env audio.BrowserEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.logger.Warnw("browser envelope decode failed, closing transport", "err", err)
			_ = t.sock.closeWithCode(websocket.CloseProtocolError, "malformed envelope")
			return
		}
		switch env.Type {
		case audio.BrowserAudio:
			frame, err := t.codec.DecodeAudio(raw)
			if err != nil {
				if commons.KindOf(err) == commons.KindProtocol {
					t.logger.Warnw("browser audio protocol violation, closing transport", "err", err)
					_ = t.sock.closeWithCode(websocket.CloseProtocolError, "bad audio frame")
					return
				}
				t.logger.Warnw("browser audio decode failed", "err", err)
				continue
			}
			for _, f := range t.sink.Push(frame.PCM) {
				t.frames <- f
			}
		case audio.BrowserHangup:
			return
		case audio.BrowserInterrupt, audio.BrowserReset, audio.BrowserText:
			// no separate control channel on the Transport interface yet;
			// barge-in is driven from STT partial stability, not client intent.
		default:
			t.logger.Debugf("ignoring browser message type %q", env.Type)
		}
	}
	if f := t.sink.Flush(); f != nil {
		t.frames <- *f
	}
}

func (t *BrowserTransport) Recv(ctx context.Context) (audio.Frame, bool, error) {
	select {
	case <-ctx.Done():
		return audio.Frame{}, false, ctx.Err()
	case f, ok := <-t.frames:
		return f, ok, nil
	}
}

func (t *BrowserTransport) Send(ctx context.Context, frame audio.Frame) error {
	data, err := t.codec.EncodeAudioFrame(frame)
	if err != nil {
		return err
	}
	return t.sock.writeMessage(websocket.TextMessage, data)
}

func (t *BrowserTransport) SendState(ctx context.Context, state session.State) error {
	data, err := t.codec.EncodeState(string(state))
	if err != nil {
		return err
	}
	return t.sock.writeMessage(websocket.TextMessage, data)
}

func (t *BrowserTransport) SendTranscript(ctx context.Context, role, text string, final bool) error {
	data, err := t.codec.EncodeTranscript(role, text, final)
	if err != nil {
		return err
	}
	return t.sock.writeMessage(websocket.TextMessage, data)
}

func (t *BrowserTransport) SendAgent(ctx context.Context, key string) error {
	data, err := t.codec.EncodeAgent(key)
	if err != nil {
		return err
	}
	return t.sock.writeMessage(websocket.TextMessage, data)
}

func (t *BrowserTransport) Close() error {
	return t.sock.Close()
}
