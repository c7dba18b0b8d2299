// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package llm

import (
	"context"
	"encoding/json"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/rapidaai/voicebridge/internal/commons"
)

// openaiChatClient wraps github.com/openai/openai-go's streaming chat
// completion API as a ChatClient (§4.4 Chat shape).
type openaiChatClient struct {
	client openai.Client
	model  string
	logger commons.Logger
}

// NewOpenAIChatFactory builds a ChatFactory bound to apiKey/model, used to
// populate the pool's per-provider factory map at startup.
func NewOpenAIChatFactory(apiKey, model string, logger commons.Logger) ChatFactory {
	return func(ctx context.Context) (ChatClient, error) {
		client := openai.NewClient(option.WithAPIKey(apiKey))
		return &openaiChatClient{client: client, model: model, logger: logger}, nil
	}
}

func (c *openaiChatClient) Chat(ctx context.Context, messages []ChatMessage, tools []ToolSpec) (<-chan ChatEvent, error) {
	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: toOpenAIMessages(messages),
	}
	if len(tools) > 0 {
		params.Tools = toOpenAITools(tools)
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	out := make(chan ChatEvent, 16)

	go func() {
		defer close(out)
		pending := map[int64]*pendingToolCall{}

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			if choice.Delta.Content != "" {
				out <- ChatEvent{Kind: EventToken, Text: choice.Delta.Content}
			}

			for _, tc := range choice.Delta.ToolCalls {
				p, ok := pending[tc.Index]
				if !ok {
					p = &pendingToolCall{callID: tc.ID, name: tc.Function.Name}
					pending[tc.Index] = p
				}
				p.args += tc.Function.Arguments
			}

			if choice.FinishReason == "tool_calls" {
				for _, p := range pending {
					out <- ChatEvent{Kind: EventToolCallRequested, ToolName: p.name, ToolArgs: p.args, CallID: p.callID}
				}
				pending = map[int64]*pendingToolCall{}
			}
			if choice.FinishReason != "" && choice.FinishReason != "tool_calls" {
				out <- ChatEvent{Kind: EventFinished, FinishReason: string(choice.FinishReason)}
			}
		}
		if err := stream.Err(); err != nil {
			c.logger.Warnw("openai chat stream error", "err", err)
			out <- ChatEvent{Kind: EventFinished, FinishReason: "error"}
		}
	}()

	return out, nil
}

type pendingToolCall struct {
	callID string
	name   string
	args   string
}

func toOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		case RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return out
}

func toOpenAITools(tools []ToolSpec) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		schema, _ := json.Marshal(t.InputSchema)
		var params shared.FunctionParameters
		_ = json.Unmarshal(schema, &params)
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  params,
			},
		})
	}
	return out
}
