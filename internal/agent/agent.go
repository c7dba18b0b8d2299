// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package agent implements C6, the Agent Registry & Orchestrator (§4.6):
// a config-populated, runtime-immutable registry of specialist AgentSpecs
// and the RunTurn algorithm that drives one LLM turn, its tool loop, and
// at most one handoff.
package agent

import (
	"context"

	"github.com/rapidaai/voicebridge/internal/llm"
)

// HandoffToolName is the reserved tool offered to every AgentSpec with a
// non-empty CanEscalateTo, used to transfer active_agent mid-turn (§4.6 step 6, §9: "per-agent
// specialization ... a tagged variant plus a small capability interface").
const HandoffToolName = "handoff_to"

// ToolDescriptor is §3's ToolDescriptor: a name, an input schema, and an
// execute function returning a result or an ErrorKind. Dispatch is a
// plain map lookup (§9: "no runtime class generation").
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
	Idempotent  bool
	Execute     func(ctx context.Context, args string, sessionCtx map[string]string) (string, error)
}

// Spec is §3's AgentSpec, registered at startup and immutable thereafter.
type Spec struct {
	Key            string
	DisplayName    string
	SystemPrompt   string
	Tools          []ToolDescriptor
	CanEscalateTo  []string
	VoiceProfile   string
	Provider       string // "openai" | "anthropic" | "gemini" | "bedrock" | "cohere" — selects the C4 ChatClient backend
	Model          string

	// CanHandle and PromptOverrides are the capability interface named in
	// §9, replacing the source's inheritance-based specialization. A
	// Spec with a nil CanHandle is never reused across turns — the
	// intent classifier picks it fresh every time.
	CanHandle       func(userText string, sessionCtx map[string]string) bool
	PromptOverrides func(sessionCtx map[string]string) string
}

// Tool looks up one of this spec's tools by name, used by the
// orchestrator's tool loop (§4.6 step 5).
func (s *Spec) Tool(name string) (ToolDescriptor, bool) {
	for _, t := range s.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolDescriptor{}, false
}

// ToolSpecs returns the tool descriptors in the shape C4's Chat call
// needs (name/description/schema only, never the executor).
func (s *Spec) ToolSpecs() []llm.ToolSpec {
	out := make([]llm.ToolSpec, 0, len(s.Tools)+1)
	for _, t := range s.Tools {
		out = append(out, llm.ToolSpec{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	if len(s.CanEscalateTo) > 0 {
		out = append(out, llm.ToolSpec{
			Name:        HandoffToolName,
			Description: "Transfer this conversation to a different specialist agent.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"agent_key": map[string]interface{}{"type": "string"}},
				"required":   []string{"agent_key"},
			},
		})
	}
	return out
}
