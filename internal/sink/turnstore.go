// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package sink implements the append-only persistence and cross-instance
// state seams spec.md §1 and §6 push out of the orchestrator's hot path:
// TurnStore appends completed-turn records (never read back on the data
// path), and SessionCache gives a second process instance enough state to
// resume a call's circuit-breaker posture after a reconnect. Grounded on
// the teacher's internal/callcontext.Store gorm repository pattern and the
// sip/infra.RTPPortAllocator's go-redis/v9 usage.
package sink

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/rapidaai/voiceorc/internal/commons"
	"github.com/rapidaai/voiceorc/internal/orchestrator"
)

// TurnRow is the gorm model for one persisted turn. Mirrors
// orchestrator.TurnRecord; kept as a separate type so the orchestrator
// package never depends on gorm tags.
type TurnRow struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement"`
	CallID        string    `gorm:"column:call_id;type:varchar(64);not null;index"`
	TraceID       string    `gorm:"column:trace_id;type:varchar(36);not null"`
	UserText      string    `gorm:"column:user_text;type:text;not null;default:''"`
	AssistantText string    `gorm:"column:assistant_text;type:text;not null;default:''"`
	ToolCalls     int       `gorm:"column:tool_calls;not null;default:0"`
	FinishedAt    time.Time `gorm:"column:finished_at;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;not null"`
}

func (TurnRow) TableName() string {
	return "turns"
}

// TurnStore is the default orchestrator.TurnSink implementation: one INSERT
// per completed turn, nothing ever read back on the call's hot path. Backed
// by sqlite+gorm for a self-contained example store; swapping in Postgres
// is a matter of the db *gorm.DB passed to NewTurnStore, not a code change
// here (spec.md §1 scopes the actual storage backend out).
type TurnStore struct {
	db     *gorm.DB
	logger commons.Logger
}

// NewTurnStore wraps db, auto-migrating the turns table. db is expected to
// already be open (sqlite via gorm.io/driver/sqlite for local/dev, or any
// other gorm dialect the caller wires in).
func NewTurnStore(db *gorm.DB, logger commons.Logger) (*TurnStore, error) {
	if err := db.AutoMigrate(&TurnRow{}); err != nil {
		return nil, fmt.Errorf("sink: migrate turns table: %w", err)
	}
	return &TurnStore{db: db, logger: logger}, nil
}

// AppendTurn implements orchestrator.TurnSink. It must never be called on
// the hot path synchronously with turn completion — the orchestrator fires
// it after the turn's audio has already been flushed to the caller.
func (t *TurnStore) AppendTurn(ctx context.Context, rec orchestrator.TurnRecord) error {
	row := TurnRow{
		CallID:        rec.CallID,
		TraceID:       rec.TraceID.String(),
		UserText:      rec.UserText,
		AssistantText: rec.AssistantText,
		ToolCalls:     rec.ToolCalls,
		FinishedAt:    rec.FinishedAt,
		CreatedAt:     time.Now(),
	}
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("sink: append turn for call %s: %w", rec.CallID, err)
	}
	t.logger.Debugw("sink: appended turn", "call_id", rec.CallID, "trace_id", rec.TraceID.String())
	return nil
}

// History returns every turn recorded for callID, oldest first. Used by
// post-call tooling (transcript export, QA review), never by the
// orchestrator itself.
func (t *TurnStore) History(ctx context.Context, callID string) ([]TurnRow, error) {
	var rows []TurnRow
	if err := t.db.WithContext(ctx).Where("call_id = ?", callID).Order("id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sink: load history for call %s: %w", callID, err)
	}
	return rows, nil
}
