package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harrisonrobin/chronos/pkg/model"
	"github.com/jmoiron/sqlx"
)

// Op is the kind of task mutation recorded in the audit log.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// AuditEvent is one append-only entry per committed task version.
type AuditEvent struct {
	ID      string       `json:"id" db:"id"`
	TaskID  string       `json:"task_id" db:"task_id"`
	OwnerID string       `json:"owner_id" db:"owner_id"`
	Version int64        `json:"version" db:"version"`
	Op      Op           `json:"op" db:"op"`
	Source  model.Source `json:"source,omitempty" db:"source"`
	At      time.Time    `json:"at" db:"at"`
}

// AddEvent appends an audit event.
func (s *Store) AddEvent(ctx context.Context, ev AuditEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = now()
	}
	q := s.rebind(`INSERT INTO task_events (id, task_id, owner_id, version, op, source, at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if _, err := s.q.ExecContext(ctx, q, ev.ID, ev.TaskID, ev.OwnerID, ev.Version, string(ev.Op), string(ev.Source), ev.At); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents returns the audit trail of a task in version order.
func (s *Store) ListEvents(ctx context.Context, taskID string) ([]AuditEvent, error) {
	q := s.rebind(`SELECT id, task_id, owner_id, version, op, source, at FROM task_events WHERE task_id = ? ORDER BY version`)
	var out []AuditEvent
	if err := sqlx.SelectContext(ctx, s.q, &out, q, taskID); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}
