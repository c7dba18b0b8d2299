// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package llm

import (
	"context"
	"encoding/json"

	"google.golang.org/genai"

	"github.com/rapidaai/voicebridge/internal/commons"
)

// geminiChatClient wraps google.golang.org/genai's content-generation
// streaming API as a third ChatClient backend (§4.4).
type geminiChatClient struct {
	client *genai.Client
	model  string
	logger commons.Logger
}

// NewGeminiChatFactory builds a ChatFactory bound to apiKey/model.
func NewGeminiChatFactory(apiKey, model string, logger commons.Logger) ChatFactory {
	return func(ctx context.Context) (ChatClient, error) {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
		if err != nil {
			return nil, commons.NewError(commons.KindUpstream, err)
		}
		return &geminiChatClient{client: client, model: model, logger: logger}, nil
	}
}

func (c *geminiChatClient) Chat(ctx context.Context, messages []ChatMessage, tools []ToolSpec) (<-chan ChatEvent, error) {
	var system string
	var contents []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system += m.Content + "\n"
		case RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		case RoleTool:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(tools) > 0 {
		cfg.Tools = toGeminiTools(tools)
	}

	out := make(chan ChatEvent, 16)
	go func() {
		defer close(out)
		for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, cfg) {
			if err != nil {
				c.logger.Warnw("gemini chat stream error", "err", err)
				out <- ChatEvent{Kind: EventFinished, FinishReason: "error"}
				return
			}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if part.Text != "" {
						out <- ChatEvent{Kind: EventToken, Text: part.Text}
					}
					if part.FunctionCall != nil {
						args, _ := json.Marshal(part.FunctionCall.Args)
						out <- ChatEvent{Kind: EventToolCallRequested, ToolName: part.FunctionCall.Name, ToolArgs: string(args), CallID: part.FunctionCall.Name}
					}
				}
			}
		}
		out <- ChatEvent{Kind: EventFinished, FinishReason: "stop"}
	}()

	return out, nil
}

func toGeminiTools(tools []ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}
