package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/flourmill-erp/flourmill/internal/platform/db"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// Validate checks the mandatory fields.
func (l AuditLog) Validate() error {
	if l.Action == "" || l.Entity == "" || l.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	if l.ActorID == 0 {
		return errors.New("audit log requires actor")
	}
	return nil
}

// AuditLogger writes records into audit_logs through the caller's transaction.
type AuditLogger struct {
	q db.DBTX
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(q db.DBTX) *AuditLogger {
	return &AuditLogger{q: q}
}

// InsertAuditLog persists the log entry.
func (l *AuditLogger) InsertAuditLog(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.Validate(); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = l.q.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}
