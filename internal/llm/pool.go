// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package llm

import (
	"context"
	"sync"

	"github.com/rapidaai/voicebridge/internal/commons"
)

// Pool is the C4 LLM Client Pool: a bounded pool over the Chat and
// RealtimeVoice surfaces (§4.4), sized by config's pool_sizes.llm (§6).
// A Chat invocation holds one slot for the lifetime of its stream; a
// RealtimeVoice session holds an exclusive slot for the session's life,
// the same exclusive-lease shape as C2/C3 (§5: "no component acquires
// two pool handles simultaneously for the same session ... in a nested
// order that could deadlock across sessions").
type Pool interface {
	// Chat acquires a bounded slot and returns the ChatClient registered
	// for provider ("openai", "anthropic", "gemini", "bedrock", or
	// "cohere"). The slot is released automatically once the returned
	// event channel closes.
	Chat(ctx context.Context, provider string) (ChatClient, error)

	// AcquireRealtime leases an exclusive RealtimeClient for sessionID,
	// blocking until a slot is free or ctx is cancelled.
	AcquireRealtime(ctx context.Context, sessionID, provider string) (RealtimeClient, error)

	// ReleaseRealtime frees sessionID's realtime slot.
	ReleaseRealtime(sessionID string)

	// Len reports slots currently in use (chat + realtime combined).
	Len() int
}

type pool struct {
	logger commons.Logger
	sem    chan struct{}

	chatFactory      map[string]ChatFactory
	realtimeFactory  map[string]RealtimeFactory

	mu          sync.Mutex
	realtimeOut map[string]RealtimeClient
	chatOut     int
}

// NewPool creates a bounded LLM pool with the given per-provider
// factories and maximum concurrent leases.
func NewPool(logger commons.Logger, size int, chatFactories map[string]ChatFactory, realtimeFactories map[string]RealtimeFactory) Pool {
	if size <= 0 {
		size = 1
	}
	return &pool{
		logger:          logger,
		sem:             make(chan struct{}, size),
		chatFactory:     chatFactories,
		realtimeFactory: realtimeFactories,
		realtimeOut:     make(map[string]RealtimeClient),
	}
}

func (p *pool) Chat(ctx context.Context, provider string) (ChatClient, error) {
	factory, ok := p.chatFactory[provider]
	if !ok {
		return nil, commons.NewError(commons.KindConfig, errUnknownLLMProvider(provider))
	}
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, commons.NewError(commons.KindCancelled, ctx.Err())
	}

	client, err := factory(ctx)
	if err != nil {
		<-p.sem
		return nil, err
	}
	p.mu.Lock()
	p.chatOut++
	p.mu.Unlock()
	return &releasingChatClient{inner: client, release: p.releaseChatSlot}, nil
}

func (p *pool) releaseChatSlot() {
	p.mu.Lock()
	p.chatOut--
	p.mu.Unlock()
	select {
	case <-p.sem:
	default:
	}
}

func (p *pool) AcquireRealtime(ctx context.Context, sessionID, provider string) (RealtimeClient, error) {
	factory, ok := p.realtimeFactory[provider]
	if !ok {
		return nil, commons.NewError(commons.KindConfig, errUnknownLLMProvider(provider))
	}
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, commons.NewError(commons.KindCancelled, ctx.Err())
	}

	client, err := factory(ctx, sessionID)
	if err != nil {
		<-p.sem
		return nil, err
	}
	p.mu.Lock()
	p.realtimeOut[sessionID] = client
	p.mu.Unlock()
	return client, nil
}

func (p *pool) ReleaseRealtime(sessionID string) {
	p.mu.Lock()
	client, ok := p.realtimeOut[sessionID]
	delete(p.realtimeOut, sessionID)
	p.mu.Unlock()
	if !ok {
		return
	}
	if err := client.Close(); err != nil {
		p.logger.Warnw("error closing realtime client", "session_id", sessionID, "err", err)
	}
	select {
	case <-p.sem:
	default:
	}
}

func (p *pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chatOut + len(p.realtimeOut)
}

// releasingChatClient wraps a ChatClient so the pool slot it holds is
// freed once the event stream it produced has been fully drained or the
// caller abandons it via ctx cancellation.
type releasingChatClient struct {
	inner   ChatClient
	release func()
}

func (c *releasingChatClient) Chat(ctx context.Context, messages []ChatMessage, tools []ToolSpec) (<-chan ChatEvent, error) {
	events, err := c.inner.Chat(ctx, messages, tools)
	if err != nil {
		c.release()
		return nil, err
	}
	out := make(chan ChatEvent, cap(events))
	go func() {
		defer close(out)
		defer c.release()
		for ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

type errUnknownLLMProvider string

func (e errUnknownLLMProvider) Error() string { return "unknown llm provider: " + string(e) }
