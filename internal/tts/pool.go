// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package tts

import (
	"context"
	"sync"

	"github.com/rapidaai/voicebridge/internal/commons"
	"github.com/rapidaai/voicebridge/internal/stt"
)

// Factory constructs a provider-specific Stream for sessionID, speaking
// with the given voice.
type Factory func(ctx context.Context, sessionID, voice string) (Stream, error)

// pool is a bounded Pool: Open blocks on a semaphore sized per §6's
// pool_sizes.tts config, mirroring the stt.Pool exclusive-lease shape
// (§4.3: "one open stream per in-progress turn").
type pool struct {
	logger  commons.Logger
	sem     chan struct{}
	factory map[string]Factory

	mu        sync.Mutex
	checkedOut map[string]Stream
}

// NewPool creates a bounded TTS pool with the given per-provider
// factories and maximum concurrent streams.
func NewPool(logger commons.Logger, size int, factories map[string]Factory) Pool {
	if size <= 0 {
		size = 1
	}
	return &pool{
		logger:     logger,
		sem:        make(chan struct{}, size),
		factory:    factories,
		checkedOut: make(map[string]Stream),
	}
}

func (p *pool) Open(ctx context.Context, sessionID, provider, voice string) (Stream, error) {
	factory, ok := p.factory[provider]
	if !ok {
		return nil, commons.NewError(commons.KindConfig, errUnknownTTSProvider(provider))
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, commons.NewError(commons.KindCancelled, ctx.Err())
	}

	stream, err := factory(ctx, sessionID, voice)
	if err != nil {
		<-p.sem
		return nil, err
	}

	p.mu.Lock()
	p.checkedOut[sessionID] = stream
	p.mu.Unlock()
	return stream, nil
}

// Close releases sessionID's stream slot, closing the upstream
// connection if the caller has not already done so.
func (p *pool) Close(sessionID string) {
	p.mu.Lock()
	stream, ok := p.checkedOut[sessionID]
	delete(p.checkedOut, sessionID)
	p.mu.Unlock()
	if !ok {
		return
	}
	if err := stream.Close(); err != nil {
		p.logger.Warnw("error closing tts stream", "session_id", sessionID, "err", err)
	}
	select {
	case <-p.sem:
	default:
	}
}

func (p *pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.checkedOut)
}

type errUnknownTTSProvider string

func (e errUnknownTTSProvider) Error() string { return "unknown tts provider: " + string(e) }

// NewDeepgramFactory builds a Factory speaking Deepgram's speak websocket
// with the given vault credential, the voice argument overriding
// "speak.voice.id" per Open call.
func NewDeepgramFactory(credential map[string]interface{}, logger commons.Logger) Factory {
	return func(ctx context.Context, sessionID, voice string) (Stream, error) {
		opts := stt.ProviderOptions{}
		if voice != "" {
			opts["speak.voice.id"] = voice
		}
		return newDeepgramStream(ctx, credential, opts, logger)
	}
}

// NewCartesiaFactory builds a Factory speaking Cartesia's TTS websocket
// with the given vault credential, the voice argument overriding
// "speak.voice.id" per Open call.
func NewCartesiaFactory(credential map[string]interface{}, logger commons.Logger) Factory {
	return func(ctx context.Context, sessionID, voice string) (Stream, error) {
		opts := map[string]interface{}{}
		if voice != "" {
			opts["speak.voice.id"] = voice
		}
		return newCartesiaStream(ctx, credential, opts, logger)
	}
}
