// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package stt

import (
	"context"
	"sync"

	"github.com/rapidaai/voicebridge/internal/commons"
)

// Factory constructs a provider-specific Recognizer for sessionID.
type Factory func(ctx context.Context, sessionID string) (Recognizer, error)

// pool is a bounded Pool: Acquire blocks on a semaphore sized per §6's
// pool_sizes.stt config.
type pool struct {
	logger  commons.Logger
	sem     chan struct{}
	factory map[string]Factory

	mu        sync.Mutex
	checkedOut map[string]Recognizer
}

// NewPool creates a bounded STT pool with the given per-provider factories
// and maximum concurrent recognizers.
func NewPool(logger commons.Logger, size int, factories map[string]Factory) Pool {
	if size <= 0 {
		size = 1
	}
	return &pool{
		logger:     logger,
		sem:        make(chan struct{}, size),
		factory:    factories,
		checkedOut: make(map[string]Recognizer),
	}
}

func (p *pool) Acquire(ctx context.Context, sessionID, provider string) (Recognizer, error) {
	factory, ok := p.factory[provider]
	if !ok {
		return nil, commons.NewError(commons.KindConfig, errUnknownSTTProvider(provider))
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, commons.NewError(commons.KindCancelled, ctx.Err())
	}

	rec, err := factory(ctx, sessionID)
	if err != nil {
		<-p.sem
		return nil, err
	}

	p.mu.Lock()
	p.checkedOut[sessionID] = rec
	p.mu.Unlock()
	return rec, nil
}

func (p *pool) Release(sessionID string) {
	p.mu.Lock()
	_, ok := p.checkedOut[sessionID]
	delete(p.checkedOut, sessionID)
	p.mu.Unlock()
	if ok {
		select {
		case <-p.sem:
		default:
		}
	}
}

// Discard closes the recognizer and frees its slot (§4.2: "discard and
// recreate on upstream error").
func (p *pool) Discard(sessionID string) {
	p.mu.Lock()
	rec, ok := p.checkedOut[sessionID]
	delete(p.checkedOut, sessionID)
	p.mu.Unlock()
	if !ok {
		return
	}
	if err := rec.Close(); err != nil {
		p.logger.Warnw("error closing discarded recognizer", "session_id", sessionID, "err", err)
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

type errUnknownSTTProvider string

func (e errUnknownSTTProvider) Error() string { return "unknown stt provider: " + string(e) }

// NewDeepgramFactory builds a Factory dialing Deepgram's live
// transcription websocket with the given vault credential, mirroring the
// TTS pool's NewDeepgramFactory wiring shape.
func NewDeepgramFactory(credential map[string]interface{}, opts ProviderOptions, logger commons.Logger) Factory {
	return func(ctx context.Context, sessionID string) (Recognizer, error) {
		opt, err := NewDeepgramOption(credential, opts)
		if err != nil {
			return nil, commons.NewError(commons.KindConfig, err)
		}
		return newDeepgramRecognizer(ctx, sessionID, opt, logger)
	}
}

// NewAzureFactory builds a Factory dialing Azure Cognitive Services
// Speech with the given vault credential (subscription key + region) and
// recognition language.
func NewAzureFactory(credential map[string]interface{}, language string, logger commons.Logger) Factory {
	return func(ctx context.Context, sessionID string) (Recognizer, error) {
		key, ok := credential["subscription_key"].(string)
		if !ok || key == "" {
			return nil, commons.NewError(commons.KindConfig, errIllegalVaultConfig("azure"))
		}
		region, ok := credential["region"].(string)
		if !ok || region == "" {
			return nil, commons.NewError(commons.KindConfig, errIllegalVaultConfig("azure"))
		}
		return newAzureRecognizer(ctx, sessionID, key, region, language, logger)
	}
}
