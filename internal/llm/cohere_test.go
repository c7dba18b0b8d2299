// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToCohereConversation_SplitsPreambleHistoryAndMessage(t *testing.T) {
	preamble, history, message := toCohereConversation([]ChatMessage{
		{Role: RoleSystem, Content: "You are a claims specialist."},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "Hello, how can I help?"},
		{Role: RoleUser, Content: "policy A123"},
	})

	assert.Equal(t, "You are a claims specialist.", preamble)
	assert.Equal(t, "policy A123", message)
	require.Len(t, history, 2)
	assert.Equal(t, "USER", history[0].Role)
	require.NotNil(t, history[0].User)
	assert.Equal(t, "hi", history[0].User.Message)
	assert.Equal(t, "CHATBOT", history[1].Role)
	require.NotNil(t, history[1].Chatbot)
}

func TestToCohereConversation_ToolResultBecomesMessage(t *testing.T) {
	// After a tool round-trip, the tool result is the newest user-side
	// content and becomes the Message field.
	_, history, message := toCohereConversation([]ChatMessage{
		{Role: RoleUser, Content: "policy A123"},
		{Role: RoleTool, Content: `{"ok":true,"holder":"J. Doe"}`, ToolCallID: "call-1"},
	})

	assert.Equal(t, `{"ok":true,"holder":"J. Doe"}`, message)
	require.Len(t, history, 1)
	assert.Equal(t, "USER", history[0].Role)
}

func TestToCohereTools(t *testing.T) {
	tools := toCohereTools([]ToolSpec{{
		Name:        "lookup_policy",
		Description: "Look up a policy by number",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"policy_number": map[string]interface{}{
					"type":        "string",
					"description": "The policy number to resolve",
				},
				"verbose": map[string]interface{}{"type": "boolean"},
			},
			"required": []interface{}{"policy_number"},
		},
	}})

	require.Len(t, tools, 1)
	assert.Equal(t, "lookup_policy", tools[0].Name)
	defs := tools[0].ParameterDefinitions
	require.Contains(t, defs, "policy_number")
	require.Contains(t, defs, "verbose")
	assert.Equal(t, "string", defs["policy_number"].Type)
	require.NotNil(t, defs["policy_number"].Required)
	assert.True(t, *defs["policy_number"].Required)
	assert.Nil(t, defs["verbose"].Required)
	require.NotNil(t, defs["policy_number"].Description)
	assert.Equal(t, "The policy number to resolve", *defs["policy_number"].Description)
}
