// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package transport

import (
	"context"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/voicebridge/internal/audio"
	"github.com/rapidaai/voicebridge/internal/commons"
	"github.com/rapidaai/voicebridge/internal/session"
)

// TelephonyTransport implements conductor.Transport over a telephony
// provider's media WebSocket `/call/stream` (§4.9, §6), the
// kind/audioData dialect shared by the Twilio/Vonage media streams
// (distinct from each provider's separate call-control webhook, C10).
type TelephonyTransport struct {
	sock   *socket
	codec  audio.TelephonyCodec
	sink   *audio.FrameSink
	logger commons.Logger

	frames chan audio.Frame
}

// NewTelephonyTransport wraps an already-upgraded media WebSocket
// connection, pinned to sampleRate (16kHz transcription / 24kHz
// realtime, per §4.1).
func NewTelephonyTransport(conn *websocket.Conn, sampleRate int, logger commons.Logger) *TelephonyTransport {
	t := &TelephonyTransport{
		sock:   newSocket(conn, logger),
		codec:  audio.TelephonyCodec{SampleRate: sampleRate},
		sink:   audio.NewFrameSink(sampleRate),
		logger: logger,
		frames: make(chan audio.Frame, framesBacklog),
	}
	go t.decodeLoop()
	return t
}

// decodeLoop drains the provider's envelopes into 20ms frames. A
// Protocol-kind decode failure (malformed envelope, sample-rate
// mismatch) closes the transport with code 1002 and ends the session
// (§7).
func (t *TelephonyTransport) decodeLoop() {
	defer close(t.frames)
	for raw := range t.sock.raw {
		if t.codec.IsStopAudio(raw) {
			continue
		}
		frame, err := t.codec.DecodeAudio(raw)
		if err != nil {
			if commons.KindOf(err) == commons.KindProtocol {
				t.logger.Warnw("telephony media protocol violation, closing transport", "err", err)
				_ = t.sock.closeWithCode(websocket.CloseProtocolError, "bad media envelope")
				return
			}
			t.logger.Warnw("telephony audio decode failed", "err", err)
			continue
		}
		for _, f := range t.sink.Push(frame.PCM) {
			t.frames <- f
		}
	}
	if f := t.sink.Flush(); f != nil {
		t.frames <- *f
	}
}

func (t *TelephonyTransport) Recv(ctx context.Context) (audio.Frame, bool, error) {
	select {
	case <-ctx.Done():
		return audio.Frame{}, false, ctx.Err()
	case f, ok := <-t.frames:
		return f, ok, nil
	}
}

func (t *TelephonyTransport) Send(ctx context.Context, frame audio.Frame) error {
	data, err := t.codec.EncodeAudioFrame(frame)
	if err != nil {
		return err
	}
	return t.sock.writeMessage(websocket.TextMessage, data)
}

// SendStopAudio tells the provider to flush its own playback buffer
// immediately, the telephony-side equivalent of barge-in interruption.
func (t *TelephonyTransport) SendStopAudio(ctx context.Context) error {
	data, err := t.codec.EncodeStopAudio()
	if err != nil {
		return err
	}
	return t.sock.writeMessage(websocket.TextMessage, data)
}

// SendState sends no state broadcast on the telephony media dialect: the
// provider's wire protocol (Twilio/Vonage media streams) has no channel
// for arbitrary state broadcasts, only audio and StopAudio. A transition
// to Listening sends StopAudio so the provider drops its queued playback;
// every other state is a no-op.
func (t *TelephonyTransport) SendState(ctx context.Context, state session.State) error {
	if state == session.StateListening {
		return t.SendStopAudio(ctx)
	}
	return nil
}

// SendTranscript is a no-op: telephony callers have no side channel to
// receive transcript text, and transcripts of telephony sessions are not
// forwarded anywhere else.
func (t *TelephonyTransport) SendTranscript(ctx context.Context, role, text string, final bool) error {
	return nil
}

// SendAgent is a no-op for the same reason as SendTranscript.
func (t *TelephonyTransport) SendAgent(ctx context.Context, key string) error {
	return nil
}

func (t *TelephonyTransport) Close() error {
	return t.sock.Close()
}
