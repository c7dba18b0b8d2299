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

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rapidaai/voicebridge/internal/commons"
)

// Caller is D4's external tool source: a Model Context Protocol server
// exposing one or more callable tools, bridged through
// github.com/mark3labs/mcp-go so an AgentSpec's
// tools[] can be sourced from an MCP server transparently alongside
// natively registered Go tools.
type Caller interface {
	Name() string
	Tools(ctx context.Context) ([]ToolDescriptor, error)
}

type mcpCaller struct {
	name   string
	client *mcpclient.Client
	logger commons.Logger
}

// NewMCPCaller connects to an MCP server over SSE and wraps it as a
// Caller. The connection is established once at registry build time;
// ToolDescriptor.Execute calls reuse it for the life of the process.
func NewMCPCaller(ctx context.Context, name, url string, logger commons.Logger) (Caller, error) {
	c, err := mcpclient.NewSSEMCPClient(url)
	if err != nil {
		return nil, commons.NewError(commons.KindConfig, fmt.Errorf("mcp caller %s: %w", name, err))
	}
	if err := c.Start(ctx); err != nil {
		return nil, commons.NewError(commons.KindUpstream, fmt.Errorf("mcp caller %s start: %w", name, err))
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "voicebridge", Version: "0.1.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return nil, commons.NewError(commons.KindUpstream, fmt.Errorf("mcp caller %s initialize: %w", name, err))
	}
	return &mcpCaller{name: name, client: c, logger: logger}, nil
}

func (m *mcpCaller) Name() string { return m.name }

// Tools lists the MCP server's tools and flattens each into a
// ToolDescriptor the registry can attach to an AgentSpec, so the
// orchestrator's tool loop treats MCP-sourced and natively registered
// tools identically (§4.6).
func (m *mcpCaller) Tools(ctx context.Context) ([]ToolDescriptor, error) {
	resp, err := m.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, commons.NewError(commons.KindUpstream, fmt.Errorf("mcp caller %s list tools: %w", m.name, err))
	}

	out := make([]ToolDescriptor, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		t := t
		schema := map[string]interface{}{
			"type":       "object",
			"properties": t.InputSchema.Properties,
			"required":   t.InputSchema.Required,
		}
		out = append(out, ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
			Execute: func(ctx context.Context, args string, _ map[string]string) (string, error) {
				var params map[string]interface{}
				if err := json.Unmarshal([]byte(args), &params); err != nil {
					return "", commons.NewError(commons.KindProtocol, err)
				}
				req := mcp.CallToolRequest{}
				req.Params.Name = t.Name
				req.Params.Arguments = params
				result, err := m.client.CallTool(ctx, req)
				if err != nil {
					return "", commons.NewError(commons.KindUpstream, err)
				}
				return mcpResultText(result), nil
			},
		})
	}
	return out, nil
}

func mcpResultText(result *mcp.CallToolResult) string {
	for _, c := range result.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			return tc.Text
		}
	}
	return ""
}
