// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package stt

import (
	"context"
	"sync"
	"time"

	dgInterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	dglisten "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	dgmsg "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"

	"github.com/rapidaai/voicebridge/internal/audio"
	"github.com/rapidaai/voicebridge/internal/commons"
)

// deepgramRecognizer wraps one Deepgram live-transcription websocket
// connection as a Recognizer, built on the deepgram-go-sdk/v3 listen
// websocket client.
type deepgramRecognizer struct {
	sessionID string
	client    *dglisten.WSCallback
	logger    commons.Logger

	events chan TranscriptEvent
	errs   chan error

	mu     sync.Mutex
	closed bool
}

// newDeepgramRecognizer dials Deepgram's live transcription endpoint and
// wires its message callback to emit TranscriptEvents.
func newDeepgramRecognizer(ctx context.Context, sessionID string, opt *DeepgramOption, logger commons.Logger) (*deepgramRecognizer, error) {
	sttOpts := opt.SpeechToTextOptions()

	r := &deepgramRecognizer{
		sessionID: sessionID,
		logger:    logger,
		events:    make(chan TranscriptEvent, 32),
		errs:      make(chan error, 1),
	}

	clientOpts := &dgInterfaces.ClientOptions{
		ApiKey: opt.GetKey(),
	}
	transcriptionOpts := &dgInterfaces.LiveTranscriptionOptions{
		Model:          sttOpts.Model,
		Language:       sttOpts.Language,
		Channels:       sttOpts.Channels,
		SmartFormat:    sttOpts.SmartFormat,
		InterimResults: sttOpts.InterimResults,
		FillerWords:    sttOpts.FillerWords,
		VadEvents:      sttOpts.VadEvents,
		Endpointing:    sttOpts.Endpointing,
		Punctuate:      sttOpts.Punctuate,
		Encoding:       sttOpts.Encoding,
		SampleRate:     sttOpts.SampleRate,
		Diarize:        sttOpts.Diarize,
		Multichannel:   sttOpts.Multichannel,
	}
	if len(sttOpts.Keywords) > 0 {
		transcriptionOpts.Keywords = sttOpts.Keywords
	}
	if len(sttOpts.Keyterm) > 0 {
		transcriptionOpts.Keyterm = sttOpts.Keyterm
	}

	client, err := dglisten.NewWSUsingCallback(ctx, "", clientOpts, transcriptionOpts, &dgCallback{r: r})
	if err != nil {
		return nil, commons.NewError(commons.KindUpstream, err)
	}
	if ok := client.Connect(); !ok {
		return nil, commons.NewError(commons.KindUpstream, errDeepgramConnectFailed)
	}
	r.client = client
	return r, nil
}

var errDeepgramConnectFailed = commonsSentinel("deepgram: connect failed")

type commonsSentinel string

func (e commonsSentinel) Error() string { return string(e) }

func (r *deepgramRecognizer) PushFrame(ctx context.Context, frame audio.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return commons.NewError(commons.KindCancelled, errDeepgramClosed)
	}
	if _, err := r.client.Write(frame.PCM); err != nil {
		return commons.NewError(commons.KindUpstream, err)
	}
	return nil
}

var errDeepgramClosed = commonsSentinel("deepgram: recognizer closed")

func (r *deepgramRecognizer) Events() <-chan TranscriptEvent { return r.events }
func (r *deepgramRecognizer) Errors() <-chan error           { return r.errs }

func (r *deepgramRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.client != nil {
		r.client.Stop()
	}
	return nil
}

// dgCallback adapts deepgramRecognizer to dgmsg.LiveMessageCallback. It is
// a separate type because the SDK's own Close(*CloseResponse) method name
// would otherwise collide with Recognizer's Close() error.
//
// Deepgram's websocket client delivers every server frame through this
// callback interface; we translate the subset the bridge cares about
// (Open/Close/Error/interim+final transcripts) into TranscriptEvents and
// leave metadata/UtteranceEnd frames unacknowledged.
type dgCallback struct {
	r *deepgramRecognizer
}

func (c *dgCallback) Open(or *dgmsg.OpenResponse) error {
	c.r.logger.Debugf("deepgram recognizer opened: session=%s", c.r.sessionID)
	return nil
}

func (c *dgCallback) Message(mr *dgmsg.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return nil
	}
	select {
	case c.r.events <- TranscriptEvent{
		SessionID:  c.r.sessionID,
		Text:       alt.Transcript,
		IsFinal:    mr.IsFinal,
		Confidence: alt.Confidence,
		EmittedAt:  time.Now(),
	}:
	default:
		c.r.logger.Warnw("transcript event dropped, consumer too slow", "session_id", c.r.sessionID)
	}
	return nil
}

func (c *dgCallback) Metadata(md *dgmsg.MetadataResponse) error { return nil }

func (c *dgCallback) SpeechStarted(ssr *dgmsg.SpeechStartedResponse) error { return nil }

func (c *dgCallback) UtteranceEnd(ur *dgmsg.UtteranceEndResponse) error { return nil }

func (c *dgCallback) Close(cr *dgmsg.CloseResponse) error {
	c.r.logger.Debugf("deepgram recognizer closed: session=%s", c.r.sessionID)
	return nil
}

func (c *dgCallback) Error(er *dgmsg.ErrorResponse) error {
	select {
	case c.r.errs <- commons.NewRetryableError(commons.KindUpstream, errDeepgramUpstream(er.Description)):
	default:
	}
	return nil
}

func (c *dgCallback) UnhandledEvent(byData []byte) error { return nil }

type errDeepgramUpstream string

func (e errDeepgramUpstream) Error() string { return "deepgram upstream error: " + string(e) }
