// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package callcontext

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rapidaai/voicebridge/internal/commons"
)

func newMockStore(t *testing.T) (Store, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	gdb, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 db,
		WithoutReturning:     true,
		PreferSimpleProtocol: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	z, _ := zap.NewDevelopment()
	logger, _ := commons.NewLoggerAtLevel("debug")
	_ = z

	return NewStore(gdb, logger), mock, func() { db.Close() }
}

func TestStore_Save_GeneratesContextID(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "call_contexts"`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	cc := &CallContext{Direction: DirectionInbound, Provider: "twilio"}
	id, err := store.Save(context.Background(), cc)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Claim_NoRowsAffectedReturnsError(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "call_contexts"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	_, err := store.Claim(context.Background(), "ctx-1")
	require.Error(t, err)
}

func TestStore_UpdateField_RejectsUnknownField(t *testing.T) {
	store, _, closeFn := newMockStore(t)
	defer closeFn()

	err := store.UpdateField(context.Background(), "ctx-1", "id", "123")
	require.Error(t, err, "id is not in the updatable-field allowlist")
}
