// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicebridge/internal/commons"
)

func newNopLogger() commons.Logger {
	l, _ := commons.NewApplicationLogger()
	return l
}

// TestRedisStore_Create exercises the Create path's SetNX-backed
// check-and-set against a mocked go-redis client (§4.5: "Create ...
// ok | already_exists").
func TestRedisStore_Create(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, newNopLogger(), time.Hour, 8)
	ctx := context.Background()

	rec := NewRecord("sess-1", TransportBrowser, "owner-1", 8)

	mock.Regexp().ExpectSetNX("session:sess-1", `.*`, time.Hour).SetVal(true)
	require.NoError(t, store.Create(ctx, "sess-1", rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_CreateAlreadyExists(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, newNopLogger(), time.Hour, 8)
	ctx := context.Background()

	rec := NewRecord("sess-2", TransportBrowser, "owner-1", 8)
	mock.Regexp().ExpectSetNX("session:sess-2", `.*`, time.Hour).SetVal(false)

	err := store.Create(ctx, "sess-2", rec)
	require.ErrorIs(t, err, ErrAlreadyExists)
}

// TestRedisStore_Load exercises Load resolving the record plus the
// cancel_epoch side key (§4.5).
func TestRedisStore_Load(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, newNopLogger(), time.Hour, 8)
	ctx := context.Background()

	rec := NewRecord("sess-3", TransportBrowser, "owner-1", 8)
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectGet("session:sess-3").SetVal(string(data))
	mock.ExpectHGet("session:sess-3:epoch", "epoch").SetErr(errNoEpochKey)

	loaded, err := store.Load(ctx, "sess-3")
	require.NoError(t, err)
	require.Equal(t, "sess-3", loaded.SessionID)
}

// TestRedisStore_BumpCancelEpoch exercises the side-key increment any
// worker may perform independent of the record's optimistic version.
func TestRedisStore_BumpCancelEpoch(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, newNopLogger(), time.Hour, 8)
	ctx := context.Background()

	mock.ExpectHIncrBy("session:sess-4:epoch", "epoch", 1).SetVal(1)
	mock.ExpectExpire("session:sess-4:epoch", time.Hour).SetVal(true)
	mock.ExpectPublish("session-events:sess-4", `{"session_id":"sess-4","cancel_epoch":1}`).SetVal(1)

	epoch, err := store.BumpCancelEpoch(ctx, "sess-4")
	require.NoError(t, err)
	require.Equal(t, uint64(1), epoch)
}

type errString string

func (e errString) Error() string { return string(e) }

const errNoEpochKey = errString("redis: nil")
