// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package llm implements C4, the LLM Client Pool (§4.4): a uniform
// cancellable interface over chat-completion providers and the realtime
// voice-to-voice provider, both streaming.
package llm

import (
	"context"

	"github.com/rapidaai/voicebridge/internal/audio"
)

// Role identifies the speaker of a ChatMessage.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatMessage is one turn in the prompt composed by the orchestrator
// (§4.6 step 2).
type ChatMessage struct {
	Role       Role
	Content    string
	ToolCallID string // set on RoleTool messages, echoes the call that produced Content
}

// ToolSpec is the subset of a ToolDescriptor (§3) the LLM needs to decide
// whether and how to call a tool.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// ChatEventKind tags the variants of ChatEvent (§4.4).
type ChatEventKind int

const (
	EventToken ChatEventKind = iota
	EventToolCallRequested
	EventFinished
)

// ChatEvent is one item from a streaming Chat call.
type ChatEvent struct {
	Kind ChatEventKind

	// EventToken
	Text string

	// EventToolCallRequested — arguments are assembled from a JSON-delta
	// stream before this event is ever yielded (§4.4).
	ToolName string
	ToolArgs string
	CallID   string

	// EventFinished
	FinishReason string
}

// ChatClient is the §4.4 Chat shape: chat-completion, streaming, tool-call
// capable. One ChatClient wraps one connection to one backend.
type ChatClient interface {
	Chat(ctx context.Context, messages []ChatMessage, tools []ToolSpec) (<-chan ChatEvent, error)
}

// RealtimeClient is the §4.4 RealtimeVoice shape, bypassing C6/C7
// entirely. The Conductor does not route sessions to it: selecting
// config.StreamingModeRealtimeVoice does not change the pipeline.
type RealtimeClient interface {
	RealtimeVoice(ctx context.Context, audioIn <-chan audio.Frame) (<-chan audio.Frame, <-chan TranscriptEvent, error)

	// Close releases the underlying provider connection. Safe to call
	// multiple times.
	Close() error
}

// TranscriptEvent mirrors stt.TranscriptEvent's shape for the realtime
// path, which produces its own transcripts inline with synthesis rather
// than through C2.
type TranscriptEvent struct {
	Text    string
	IsFinal bool
}

// ChatFactory constructs a provider-specific ChatClient.
type ChatFactory func(ctx context.Context) (ChatClient, error)

// RealtimeFactory constructs a provider-specific RealtimeClient.
type RealtimeFactory func(ctx context.Context, sessionID string) (RealtimeClient, error)
