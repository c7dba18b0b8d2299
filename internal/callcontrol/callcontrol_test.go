// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package callcontrol

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicebridge/internal/commons"
)

func TestWithRetry_SucceedsAfterRetryableFailures(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), callRetries, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return commons.NewRetryableError(commons.KindUpstream, errors.New("transient"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetry_StopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), callRetries, func(ctx context.Context) error {
		attempts++
		return commons.NewError(commons.KindConfig, errors.New("bad config"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "a non-retryable error must not be retried")
}

func TestWithRetry_GivesUpAfterExhaustingAttempts(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), callRetries, func(ctx context.Context) error {
		attempts++
		return commons.NewRetryableError(commons.KindUpstream, errors.New("still failing"))
	})
	require.Error(t, err)
	assert.Equal(t, callRetries+1, attempts)
}
