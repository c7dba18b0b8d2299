// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package llm

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/rapidaai/voicebridge/internal/commons"
)

// bedrockChatClient wraps the Bedrock runtime Converse streaming API as a
// fourth ChatClient backend. Tool use arrives as a content-block start
// carrying the tool name plus a stream of JSON input deltas; the deltas
// are assembled into complete arguments before ToolCallRequested is
// yielded, same as the OpenAI backend.
type bedrockChatClient struct {
	client *bedrockruntime.Client
	model  string
	logger commons.Logger
}

// NewBedrockChatFactory builds a ChatFactory bound to a static AWS
// credential pair, region, and model id.
func NewBedrockChatFactory(accessKeyID, secretAccessKey, region, model string, logger commons.Logger) ChatFactory {
	return func(ctx context.Context) (ChatClient, error) {
		cfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
			),
		)
		if err != nil {
			return nil, commons.NewError(commons.KindConfig, err)
		}
		return &bedrockChatClient{client: bedrockruntime.NewFromConfig(cfg), model: model, logger: logger}, nil
	}
}

func (c *bedrockChatClient) Chat(ctx context.Context, messages []ChatMessage, tools []ToolSpec) (<-chan ChatEvent, error) {
	system, msgs := toBedrockMessages(messages)

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(c.model),
		Messages: msgs,
		System:   system,
	}
	if len(tools) > 0 {
		input.ToolConfig = &bedrocktypes.ToolConfiguration{Tools: toBedrockTools(tools)}
	}

	resp, err := c.client.ConverseStream(ctx, input)
	if err != nil {
		return nil, commons.NewError(commons.KindUpstream, err)
	}

	out := make(chan ChatEvent, 16)
	go func() {
		stream := resp.GetStream()
		defer close(out)
		defer stream.Close()

		var pending *pendingToolCall
		for event := range stream.Events() {
			switch v := event.(type) {
			case *bedrocktypes.ConverseStreamOutputMemberContentBlockStart:
				if tu, ok := v.Value.Start.(*bedrocktypes.ContentBlockStartMemberToolUse); ok {
					pending = &pendingToolCall{
						callID: aws.ToString(tu.Value.ToolUseId),
						name:   aws.ToString(tu.Value.Name),
					}
				}
			case *bedrocktypes.ConverseStreamOutputMemberContentBlockDelta:
				switch d := v.Value.Delta.(type) {
				case *bedrocktypes.ContentBlockDeltaMemberText:
					out <- ChatEvent{Kind: EventToken, Text: d.Value}
				case *bedrocktypes.ContentBlockDeltaMemberToolUse:
					if pending != nil {
						pending.args += aws.ToString(d.Value.Input)
					}
				}
			case *bedrocktypes.ConverseStreamOutputMemberContentBlockStop:
				if pending != nil {
					out <- ChatEvent{Kind: EventToolCallRequested, ToolName: pending.name, ToolArgs: pending.args, CallID: pending.callID}
					pending = nil
				}
			case *bedrocktypes.ConverseStreamOutputMemberMessageStop:
				out <- ChatEvent{Kind: EventFinished, FinishReason: string(v.Value.StopReason)}
			}
		}
		if err := stream.Err(); err != nil {
			c.logger.Warnw("bedrock chat stream error", "err", err)
			out <- ChatEvent{Kind: EventFinished, FinishReason: "error"}
		}
	}()

	return out, nil
}

// toBedrockMessages splits system prompts out into SystemContentBlocks
// and folds tool results into user-role turns, the Converse API's
// conversation shape. Consecutive same-role messages are merged because
// Converse rejects back-to-back turns from one role.
func toBedrockMessages(messages []ChatMessage) ([]bedrocktypes.SystemContentBlock, []bedrocktypes.Message) {
	system := make([]bedrocktypes.SystemContentBlock, 0, 1)
	msgs := make([]bedrocktypes.Message, 0, len(messages))

	appendText := func(role bedrocktypes.ConversationRole, text string) {
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content = append(msgs[n-1].Content, &bedrocktypes.ContentBlockMemberText{Value: text})
			return
		}
		msgs = append(msgs, bedrocktypes.Message{
			Role:    role,
			Content: []bedrocktypes.ContentBlock{&bedrocktypes.ContentBlockMemberText{Value: text}},
		})
	}

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, &bedrocktypes.SystemContentBlockMemberText{Value: m.Content})
		case RoleUser, RoleTool:
			appendText(bedrocktypes.ConversationRoleUser, m.Content)
		case RoleAssistant:
			appendText(bedrocktypes.ConversationRoleAssistant, m.Content)
		}
	}
	return system, msgs
}

func toBedrockTools(tools []ToolSpec) []bedrocktypes.Tool {
	out := make([]bedrocktypes.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, &bedrocktypes.ToolMemberToolSpec{
			Value: bedrocktypes.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &bedrocktypes.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(t.InputSchema),
				},
			},
		})
	}
	return out
}
