// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicebridge/internal/commons"
	"github.com/rapidaai/voicebridge/internal/llm"
	"github.com/rapidaai/voicebridge/internal/session"
)

type scriptedChatClient struct {
	events []llm.ChatEvent
}

func (c *scriptedChatClient) Chat(ctx context.Context, messages []llm.ChatMessage, tools []llm.ToolSpec) (<-chan llm.ChatEvent, error) {
	ch := make(chan llm.ChatEvent, len(c.events))
	for _, e := range c.events {
		ch <- e
	}
	close(ch)
	return ch, nil
}

type fakePool struct {
	scripts map[string][]llm.ChatEvent
	calls   int
}

func (p *fakePool) Chat(ctx context.Context, provider string) (llm.ChatClient, error) {
	p.calls++
	return &scriptedChatClient{events: p.scripts[provider]}, nil
}
func (p *fakePool) AcquireRealtime(ctx context.Context, sessionID, provider string) (llm.RealtimeClient, error) {
	return nil, nil
}
func (p *fakePool) ReleaseRealtime(sessionID string) {}
func (p *fakePool) Len() int                         { return 0 }

func testLogger(t *testing.T) commons.Logger {
	t.Helper()
	l, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	return l
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	greeter := &Spec{Key: GreeterKey, Provider: "greeter-backend", SystemPrompt: "You are a friendly greeter."}
	claims := &Spec{Key: "claims", Provider: "claims-backend", SystemPrompt: "You handle claims.",
		Tools: []ToolDescriptor{{
			Name: "lookup_policy",
			Execute: func(ctx context.Context, args string, _ map[string]string) (string, error) {
				return `{"ok":true,"holder":"J. Doe"}`, nil
			},
		}},
	}
	greeter.CanEscalateTo = []string{"claims"}
	reg, err := NewRegistry([]*Spec{greeter, claims})
	require.NoError(t, err)
	return reg
}

func TestRunTurn_ToolInvocation(t *testing.T) {
	reg := newTestRegistry(t)
	pool := &fakePool{scripts: map[string][]llm.ChatEvent{
		"greeter-backend": {{Kind: llm.EventToken, Text: "claims"}, {Kind: llm.EventFinished}},
		"claims-backend": {
			{Kind: llm.EventToolCallRequested, ToolName: "lookup_policy", ToolArgs: `{"policy_number":"A123"}`, CallID: "1"},
			{Kind: llm.EventToken, Text: "Found J. Doe"},
			{Kind: llm.EventFinished},
		},
	}}

	orch := NewOrchestrator(reg, pool, nil, "owner-1", testLogger(t), 8, time.Second, "sorry, try again", "greeter")
	rec := session.NewRecord("sess-1", session.TransportBrowser, "owner-1", 8)

	var done Event
	for ev := range orch.RunTurn(context.Background(), rec, "policy A123") {
		if ev.Kind == EventDone {
			done = ev
		}
	}
	assert.Contains(t, done.Text, "J. Doe")
}

func TestRunTurn_Handoff(t *testing.T) {
	reg := newTestRegistry(t)
	pool := &fakePool{scripts: map[string][]llm.ChatEvent{
		"greeter-backend": {
			{Kind: llm.EventToolCallRequested, ToolName: HandoffToolName, ToolArgs: `{"agent_key":"claims"}`, CallID: "1"},
			{Kind: llm.EventFinished},
		},
		"claims-backend": {{Kind: llm.EventToken, Text: "Sure, let's file that claim."}, {Kind: llm.EventFinished}},
	}}

	orch := NewOrchestrator(reg, pool, nil, "owner-1", testLogger(t), 8, time.Second, "sorry, try again", "greeter")
	rec := session.NewRecord("sess-2", session.TransportBrowser, "owner-1", 8)

	var sawHandoff bool
	var done Event
	for ev := range orch.RunTurn(context.Background(), rec, "I need to file a claim") {
		if ev.Kind == EventHandoff {
			sawHandoff = true
			assert.Equal(t, "claims", ev.ToAgentKey)
		}
		if ev.Kind == EventDone {
			done = ev
		}
	}
	assert.True(t, sawHandoff)
	assert.Contains(t, done.Text, "claim")
	assert.Equal(t, "claims", rec.ActiveAgent)
}

func TestRunTurn_EmptyResponseFallsBackToFallbackPhrase(t *testing.T) {
	reg := newTestRegistry(t)
	pool := &fakePool{scripts: map[string][]llm.ChatEvent{
		"greeter-backend": {{Kind: llm.EventFinished}},
	}}

	orch := NewOrchestrator(reg, pool, nil, "owner-1", testLogger(t), 8, time.Second, "sorry, try again", "greeter")
	rec := session.NewRecord("sess-3", session.TransportBrowser, "owner-1", 8)

	var done Event
	for ev := range orch.RunTurn(context.Background(), rec, "...") {
		if ev.Kind == EventDone {
			done = ev
		}
	}
	assert.Equal(t, "sorry, try again", done.Text)
}
