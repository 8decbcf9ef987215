// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/rapidaai/voiceorc/internal/commons"
	"github.com/rapidaai/voiceorc/internal/orchestrator"
)

// openMockedDB opens a gorm sqlite dialector directly over a sqlmock
// connection, with no migration performed — callers that need a TurnStore
// without exercising AutoMigrate's own SQL should build one with
// &TurnStore{db: gdb, logger: ...} rather than NewTurnStore, since the
// exact statement sequence AutoMigrate issues is a gorm/dialector internal
// we don't pin tests to.
func openMockedDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(sqlite.Dialector{Conn: db}, &gorm.Config{})
	require.NoError(t, err)
	return gdb, mock
}

func TestTurnStoreAppendTurn(t *testing.T) {
	gdb, mock := openMockedDB(t)
	store := &TurnStore{db: gdb, logger: commons.NewNop()}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO .turns.`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	rec := orchestrator.TurnRecord{
		CallID:        "call-1",
		TraceID:       uuid.New(),
		UserText:      "hello",
		AssistantText: "hi there",
		ToolCalls:     1,
		FinishedAt:    time.Now(),
	}
	err := store.AppendTurn(context.Background(), rec)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTurnStoreAppendTurnPropagatesError(t *testing.T) {
	gdb, mock := openMockedDB(t)
	store := &TurnStore{db: gdb, logger: commons.NewNop()}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO .turns.`).WillReturnError(errors.New("insert failed"))
	mock.ExpectRollback()

	err := store.AppendTurn(context.Background(), orchestrator.TurnRecord{CallID: "call-2", TraceID: uuid.New()})
	assert.Error(t, err)
}

func TestTurnStoreHistory(t *testing.T) {
	gdb, mock := openMockedDB(t)
	store := &TurnStore{db: gdb, logger: commons.NewNop()}

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "call_id", "trace_id", "user_text", "assistant_text", "tool_calls", "finished_at", "created_at"}).
		AddRow(1, "call-1", uuid.New().String(), "hi", "hello", 0, now, now)
	mock.ExpectQuery(`SELECT \* FROM .turns.`).WillReturnRows(rows)

	history, err := store.History(context.Background(), "call-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "call-1", history[0].CallID)
}

func TestNewTurnStoreMigrates(t *testing.T) {
	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	store, err := NewTurnStore(gdb, commons.NewNop())
	require.NoError(t, err)

	err = store.AppendTurn(context.Background(), orchestrator.TurnRecord{
		CallID: "call-1", TraceID: uuid.New(), UserText: "hi", FinishedAt: time.Now(),
	})
	require.NoError(t, err)

	history, err := store.History(context.Background(), "call-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
}
