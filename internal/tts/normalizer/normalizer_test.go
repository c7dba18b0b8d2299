// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package normalizer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicebridge/internal/commons"
)

func newTestLogger(t *testing.T) commons.Logger {
	l, err := commons.NewLoggerAtLevel("debug")
	require.NoError(t, err)
	return l
}

func TestCurrencyNormalizer(t *testing.T) {
	n := NewCurrencyNormalizer(newTestLogger(t))
	out := n.Normalize(context.Background(), "that will be $42.50 total")
	assert.Equal(t, "that will be 42 dollars and 50 cents total", out)
}

func TestSymbolNormalizer(t *testing.T) {
	n := NewSymbolNormalizer(newTestLogger(t))
	out := n.Normalize(context.Background(), "100% sure, call me @ home")
	assert.Contains(t, out, "percent")
	assert.Contains(t, out, "at")
}

func TestTimeNormalizer(t *testing.T) {
	n := NewTimeNormalizer(newTestLogger(t))
	out := n.Normalize(context.Background(), "the meeting is at 14:30")
	assert.Equal(t, "the meeting is at 2:30 PM", out)
}

func TestAbbreviationNormalizer(t *testing.T) {
	n := NewAbbreviationNormalizer(newTestLogger(t), nil)
	out := n.Normalize(context.Background(), "Dr. Smith will see you now")
	assert.Equal(t, "Doctor Smith will see you now", out)
}

func TestBuildPipeline_SkipsUnknownNormalizer(t *testing.T) {
	stages := BuildPipeline(newTestLogger(t), DefaultConfig(), []string{"currency", "not-a-real-one", "symbol"})
	assert.Len(t, stages, 2)
}

func TestPipeline_RunsStagesInOrder(t *testing.T) {
	stages := BuildPipeline(newTestLogger(t), DefaultConfig(), []string{"currency", "symbol"})
	p := NewPipeline(stages)
	out := p.Normalize(context.Background(), "cost: $5 & rising")
	assert.Contains(t, out, "dollars")
	assert.Contains(t, out, "and")
}
