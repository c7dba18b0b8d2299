// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/replicate/replicate-go"

	"github.com/rapidaai/voicebridge/internal/commons"
)

// NewReplicateInferenceTool registers a built-in model-inference tool
// backed by github.com/replicate/replicate-go: out-of-band model calls
// such as image classification lookups a specialist agent can invoke
// mid-conversation.
func NewReplicateInferenceTool(token, modelVersion string, logger commons.Logger) ToolDescriptor {
	client, clientErr := replicate.NewClient(replicate.WithToken(token))

	return ToolDescriptor{
		Name:        "model_inference",
		Description: "Run a hosted model (image/classification lookup) and return its textual output.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"input": map[string]interface{}{"type": "object"},
			},
			"required": []string{"input"},
		},
		Idempotent: false,
		Execute: func(ctx context.Context, args string, _ map[string]string) (string, error) {
			if clientErr != nil {
				return "", commons.NewError(commons.KindConfig, clientErr)
			}
			var req struct {
				Input map[string]interface{} `json:"input"`
			}
			if err := json.Unmarshal([]byte(args), &req); err != nil {
				return "", commons.NewError(commons.KindProtocol, err)
			}

			prediction, err := client.CreatePrediction(ctx, modelVersion, req.Input, nil, false)
			if err != nil {
				return "", commons.NewError(commons.KindUpstream, err)
			}
			if err := client.Wait(ctx, prediction); err != nil {
				return "", commons.NewError(commons.KindUpstream, err)
			}
			out, err := json.Marshal(prediction.Output)
			if err != nil {
				return "", commons.NewError(commons.KindInternal, err)
			}
			return fmt.Sprintf("%s", out), nil
		},
	}
}
