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

	"github.com/Microsoft/cognitive-services-speech-sdk-go/audio"
	"github.com/Microsoft/cognitive-services-speech-sdk-go/common"
	"github.com/Microsoft/cognitive-services-speech-sdk-go/speech"

	bridgeaudio "github.com/rapidaai/voicebridge/internal/audio"
	"github.com/rapidaai/voicebridge/internal/commons"
)

// azureRecognizer is the second STT provider named in §4.2 ("at least two
// interchangeable backends"), implemented against the Microsoft Cognitive
// Services Speech SDK's push-stream continuous recognition API.
type azureRecognizer struct {
	sessionID string
	logger    commons.Logger

	stream     *audio.PushAudioInputStream
	recognizer *speech.SpeechRecognizer

	events chan TranscriptEvent
	errs   chan error

	mu     sync.Mutex
	closed bool
}

func newAzureRecognizer(ctx context.Context, sessionID, subscriptionKey, region, language string, logger commons.Logger) (*azureRecognizer, error) {
	speechConfig, err := speech.NewSpeechConfigFromSubscription(subscriptionKey, region)
	if err != nil {
		return nil, commons.NewError(commons.KindConfig, err)
	}
	defer speechConfig.Close()
	if language != "" {
		if err := speechConfig.SetSpeechRecognitionLanguage(language); err != nil {
			return nil, commons.NewError(commons.KindConfig, err)
		}
	}

	format, err := audio.GetWaveFormatPCM(16000, 16, 1)
	if err != nil {
		return nil, commons.NewError(commons.KindConfig, err)
	}
	defer format.Close()

	stream, err := audio.CreatePushAudioInputStreamFromFormat(format)
	if err != nil {
		return nil, commons.NewError(commons.KindConfig, err)
	}

	audioConfig, err := audio.NewAudioConfigFromStreamInput(stream)
	if err != nil {
		stream.Close()
		return nil, commons.NewError(commons.KindConfig, err)
	}
	defer audioConfig.Close()

	recognizer, err := speech.NewSpeechRecognizerFromConfig(speechConfig, audioConfig)
	if err != nil {
		stream.Close()
		return nil, commons.NewError(commons.KindUpstream, err)
	}

	r := &azureRecognizer{
		sessionID:  sessionID,
		logger:     logger,
		stream:     stream,
		recognizer: recognizer,
		events:     make(chan TranscriptEvent, 32),
		errs:       make(chan error, 1),
	}

	recognizer.Recognizing(func(event speech.SpeechRecognitionEventArgs) {
		defer event.Close()
		r.emit(event.Result.Text, false, event.Result.Duration)
	})
	recognizer.Recognized(func(event speech.SpeechRecognitionEventArgs) {
		defer event.Close()
		if event.Result.Reason == common.RecognizedSpeech {
			r.emit(event.Result.Text, true, event.Result.Duration)
		}
	})
	recognizer.Canceled(func(event speech.SpeechRecognitionCanceledEventArgs) {
		defer event.Close()
		select {
		case r.errs <- commons.NewRetryableError(commons.KindUpstream, errAzureCanceled(event.ErrorDetails)):
		default:
		}
	})

	if err := <-recognizer.StartContinuousRecognitionAsync(); err != nil {
		recognizer.Close()
		stream.Close()
		return nil, commons.NewError(commons.KindUpstream, err)
	}
	return r, nil
}

func (r *azureRecognizer) emit(text string, isFinal bool, dur time.Duration) {
	if text == "" {
		return
	}
	select {
	case r.events <- TranscriptEvent{
		SessionID: r.sessionID,
		Text:      text,
		IsFinal:   isFinal,
		EmittedAt: time.Now(),
	}:
	default:
		r.logger.Warnw("transcript event dropped, consumer too slow", "session_id", r.sessionID)
	}
}

func (r *azureRecognizer) PushFrame(ctx context.Context, frame bridgeaudio.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return commons.NewError(commons.KindCancelled, errAzureClosed)
	}
	if err := r.stream.Write(frame.PCM); err != nil {
		return commons.NewError(commons.KindUpstream, err)
	}
	return nil
}

func (r *azureRecognizer) Events() <-chan TranscriptEvent { return r.events }
func (r *azureRecognizer) Errors() <-chan error           { return r.errs }

func (r *azureRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	<-r.recognizer.StopContinuousRecognitionAsync()
	r.recognizer.Close()
	r.stream.CloseStream()
	r.stream.Close()
	return nil
}

type errAzureCanceled string

func (e errAzureCanceled) Error() string { return "azure speech canceled: " + string(e) }

var errAzureClosed = commonsSentinel("azure: recognizer closed")
