// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package llm

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBedrockMessages_SplitsSystemFromConversation(t *testing.T) {
	system, msgs := toBedrockMessages([]ChatMessage{
		{Role: RoleSystem, Content: "You are a claims specialist."},
		{Role: RoleUser, Content: "policy A123"},
		{Role: RoleAssistant, Content: "Looking that up."},
	})

	require.Len(t, system, 1)
	sys, ok := system[0].(*bedrocktypes.SystemContentBlockMemberText)
	require.True(t, ok)
	assert.Equal(t, "You are a claims specialist.", sys.Value)

	require.Len(t, msgs, 2)
	assert.Equal(t, bedrocktypes.ConversationRoleUser, msgs[0].Role)
	assert.Equal(t, bedrocktypes.ConversationRoleAssistant, msgs[1].Role)
}

func TestToBedrockMessages_MergesConsecutiveSameRole(t *testing.T) {
	// A tool result follows the user turn that triggered it; Converse
	// rejects back-to-back turns from one role, so both land in one
	// user message with two content blocks.
	_, msgs := toBedrockMessages([]ChatMessage{
		{Role: RoleUser, Content: "policy A123"},
		{Role: RoleTool, Content: `{"ok":true,"holder":"J. Doe"}`, ToolCallID: "call-1"},
	})

	require.Len(t, msgs, 1)
	assert.Equal(t, bedrocktypes.ConversationRoleUser, msgs[0].Role)
	assert.Len(t, msgs[0].Content, 2)
}

func TestToBedrockTools(t *testing.T) {
	tools := toBedrockTools([]ToolSpec{{
		Name:        "lookup_policy",
		Description: "Look up a policy by number",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"policy_number": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"policy_number"},
		},
	}})

	require.Len(t, tools, 1)
	spec, ok := tools[0].(*bedrocktypes.ToolMemberToolSpec)
	require.True(t, ok)
	assert.Equal(t, "lookup_policy", aws.ToString(spec.Value.Name))
	assert.Equal(t, "Look up a policy by number", aws.ToString(spec.Value.Description))
	assert.NotNil(t, spec.Value.InputSchema)
}
