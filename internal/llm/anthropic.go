// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package llm

import (
	"encoding/json"

	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/rapidaai/voicebridge/internal/commons"
)

// anthropicChatClient wraps github.com/anthropics/anthropic-sdk-go's
// message streaming API as a ChatClient (§4.4 Chat shape).
type anthropicChatClient struct {
	client anthropic.Client
	model  anthropic.Model
	logger commons.Logger
}

// NewAnthropicChatFactory builds a ChatFactory bound to apiKey/model.
func NewAnthropicChatFactory(apiKey string, model anthropic.Model, logger commons.Logger) ChatFactory {
	return func(ctx context.Context) (ChatClient, error) {
		client := anthropic.NewClient(option.WithAPIKey(apiKey))
		return &anthropicChatClient{client: client, model: model, logger: logger}, nil
	}
}

func (c *anthropicChatClient) Chat(ctx context.Context, messages []ChatMessage, tools []ToolSpec) (<-chan ChatEvent, error) {
	var system string
	var msgs []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system += m.Content + "\n"
		case RoleUser:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case RoleTool:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = toAnthropicTools(tools)
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	out := make(chan ChatEvent, 16)

	go func() {
		defer close(out)
		var toolName, toolArgs, toolID string

		for stream.Next() {
			event := stream.Current()
			switch delta := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if tu, ok := delta.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					toolName = tu.Name
					toolID = tu.ID
					toolArgs = ""
				}
			case anthropic.ContentBlockDeltaEvent:
				if d, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok {
					out <- ChatEvent{Kind: EventToken, Text: d.Text}
				}
				if d, ok := delta.Delta.AsAny().(anthropic.InputJSONDelta); ok {
					toolArgs += d.PartialJSON
				}
			case anthropic.ContentBlockStopEvent:
				if toolName != "" {
					out <- ChatEvent{Kind: EventToolCallRequested, ToolName: toolName, ToolArgs: toolArgs, CallID: toolID}
					toolName, toolArgs, toolID = "", "", ""
				}
			case anthropic.MessageStopEvent:
				out <- ChatEvent{Kind: EventFinished, FinishReason: "stop"}
			}
		}
		if err := stream.Err(); err != nil {
			c.logger.Warnw("anthropic chat stream error", "err", err)
			out <- ChatEvent{Kind: EventFinished, FinishReason: "error"}
		}
	}()

	return out, nil
}

func toAnthropicTools(tools []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema, _ := json.Marshal(t.InputSchema)
		var inputSchema anthropic.ToolInputSchemaParam
		_ = json.Unmarshal(schema, &inputSchema)
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: inputSchema,
			},
		})
	}
	return out
}
