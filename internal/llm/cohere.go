// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"

	"github.com/rapidaai/voicebridge/internal/commons"
)

// cohereChatClient wraps Cohere's chat streaming API as a fifth
// ChatClient backend. Cohere's wire shape differs from the others: the
// newest user message travels separately from the chat history, the
// system prompt is a preamble, and tool calls arrive fully assembled in
// a single tool-calls-generation event rather than as argument deltas.
type cohereChatClient struct {
	client *cohereclient.Client
	model  string
	logger commons.Logger
}

// NewCohereChatFactory builds a ChatFactory bound to apiKey/model.
func NewCohereChatFactory(apiKey, model string, logger commons.Logger) ChatFactory {
	return func(ctx context.Context) (ChatClient, error) {
		return &cohereChatClient{
			client: cohereclient.NewClient(cohereclient.WithToken(apiKey)),
			model:  model,
			logger: logger,
		}, nil
	}
}

func (c *cohereChatClient) Chat(ctx context.Context, messages []ChatMessage, tools []ToolSpec) (<-chan ChatEvent, error) {
	preamble, history, message := toCohereConversation(messages)

	req := &cohere.ChatStreamRequest{
		Message:     message,
		Model:       &c.model,
		ChatHistory: history,
	}
	if preamble != "" {
		req.Preamble = &preamble
	}
	if len(tools) > 0 {
		req.Tools = toCohereTools(tools)
	}

	stream, err := c.client.ChatStream(ctx, req)
	if err != nil {
		return nil, commons.NewError(commons.KindUpstream, err)
	}

	out := make(chan ChatEvent, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		for {
			msg, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				c.logger.Warnw("cohere chat stream error", "err", err)
				out <- ChatEvent{Kind: EventFinished, FinishReason: "error"}
				return
			}
			switch {
			case msg.TextGeneration != nil:
				if msg.TextGeneration.Text != "" {
					out <- ChatEvent{Kind: EventToken, Text: msg.TextGeneration.Text}
				}
			case msg.ToolCallsGeneration != nil:
				for _, tc := range msg.ToolCallsGeneration.ToolCalls {
					if tc == nil {
						continue
					}
					args, _ := json.Marshal(tc.Parameters)
					out <- ChatEvent{Kind: EventToolCallRequested, ToolName: tc.Name, ToolArgs: string(args), CallID: tc.Name}
				}
			case msg.StreamEnd != nil:
				out <- ChatEvent{Kind: EventFinished, FinishReason: string(msg.StreamEnd.FinishReason)}
				return
			}
		}
	}()

	return out, nil
}

// toCohereConversation maps the orchestrator's flat message list onto
// Cohere's preamble + history + message split. The last user message
// becomes the Message field; tool results are folded into user-role
// history turns the same way the Gemini backend folds them.
func toCohereConversation(messages []ChatMessage) (preamble string, history []*cohere.Message, message string) {
	lastUser := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser || messages[i].Role == RoleTool {
			lastUser = i
			break
		}
	}

	for i, m := range messages {
		if i == lastUser {
			message = m.Content
			continue
		}
		switch m.Role {
		case RoleSystem:
			if preamble != "" {
				preamble += "\n"
			}
			preamble += m.Content
		case RoleUser, RoleTool:
			history = append(history, &cohere.Message{
				Role: "USER",
				User: &cohere.ChatMessage{Message: m.Content},
			})
		case RoleAssistant:
			history = append(history, &cohere.Message{
				Role:    "CHATBOT",
				Chatbot: &cohere.ChatMessage{Message: m.Content},
			})
		}
	}
	return preamble, history, message
}

// toCohereTools flattens a JSON-schema tool definition into Cohere's
// per-parameter definition map.
func toCohereTools(tools []ToolSpec) []*cohere.Tool {
	out := make([]*cohere.Tool, 0, len(tools))
	for _, t := range tools {
		defs := make(map[string]*cohere.ToolParameterDefinitionsValue)

		required := map[string]bool{}
		if req, ok := t.InputSchema["required"].([]interface{}); ok {
			for _, r := range req {
				if name, ok := r.(string); ok {
					required[name] = true
				}
			}
		}
		if props, ok := t.InputSchema["properties"].(map[string]interface{}); ok {
			for name, raw := range props {
				def := &cohere.ToolParameterDefinitionsValue{Type: "str"}
				if prop, ok := raw.(map[string]interface{}); ok {
					if typ, ok := prop["type"].(string); ok {
						def.Type = typ
					}
					if desc, ok := prop["description"].(string); ok {
						def.Description = &desc
					}
				}
				if required[name] {
					isRequired := true
					def.Required = &isRequired
				}
				defs[name] = def
			}
		}

		description := t.Description
		out = append(out, &cohere.Tool{
			Name:                 t.Name,
			Description:          description,
			ParameterDefinitions: defs,
		})
	}
	return out
}
