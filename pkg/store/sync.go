package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/harrisonrobin/chronos/pkg/model"
	"github.com/jmoiron/sqlx"
)

// SyncState is the mapping between a task and its calendar event. It is kept
// apart from the task row so that recording a push never bumps the task
// version, and it outlives the task until the remote delete succeeds.
type SyncState struct {
	TaskID          string           `db:"task_id"`
	OwnerID         string           `db:"owner_id"`
	ExternalEventID *string          `db:"external_event_id"`
	PushedVersion   int64            `db:"pushed_version"`
	Status          model.SyncStatus `db:"status"`
	LastError       string           `db:"last_error"`
	Attempts        int              `db:"attempts"`
	UpdatedAt       time.Time        `db:"updated_at"`

	// TaskVersion is the task version a write reflects when it differs from
	// PushedVersion, as for a failed push. It is not stored.
	TaskVersion int64 `db:"-"`
}

// GetSyncState returns the mapping for a task, or model.ErrNotFound.
func (s *Store) GetSyncState(ctx context.Context, taskID string) (SyncState, error) {
	q := s.rebind(`SELECT task_id, owner_id, external_event_id, pushed_version, status, last_error, attempts, updated_at
		FROM sync_state WHERE task_id = ?`)
	var st SyncState
	if err := sqlx.GetContext(ctx, s.q, &st, q, taskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SyncState{}, fmt.Errorf("sync state %s: %w", taskID, model.ErrNotFound)
		}
		return SyncState{}, fmt.Errorf("get sync state: %w", err)
	}
	return st, nil
}

// PutSyncState inserts or replaces the mapping. A pending row stays pending
// when the task has moved past the version the write reflects, so a push
// that finishes after a newer edit cannot mark that edit synced. Two tasks
// of one owner can never share an external event id; that case yields
// model.ErrConflict.
func (s *Store) PutSyncState(ctx context.Context, st SyncState) error {
	st.UpdatedAt = now()
	q := s.rebind(`
		INSERT INTO sync_state (task_id, owner_id, external_event_id, pushed_version, status, last_error, attempts, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (task_id) DO UPDATE SET
			external_event_id = excluded.external_event_id,
			pushed_version = excluded.pushed_version,
			status = CASE
				WHEN sync_state.status = 'pending' AND EXISTS (
					SELECT 1 FROM tasks WHERE tasks.id = excluded.task_id AND tasks.version > ?
				) THEN sync_state.status
				ELSE excluded.status
			END,
			last_error = excluded.last_error,
			attempts = excluded.attempts,
			updated_at = excluded.updated_at`)
	_, err := s.q.ExecContext(ctx, q,
		st.TaskID, st.OwnerID, st.ExternalEventID, st.PushedVersion, string(st.Status), st.LastError, st.Attempts, st.UpdatedAt,
		max(st.PushedVersion, st.TaskVersion),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("external event already mapped: %w", model.ErrConflict)
		}
		return fmt.Errorf("put sync state: %w", err)
	}
	return nil
}

// MarkSyncPending flags a task as awaiting reconciliation, creating the
// mapping row when the task has never been synced.
func (s *Store) MarkSyncPending(ctx context.Context, ownerID, taskID string) error {
	q := s.rebind(`
		INSERT INTO sync_state (task_id, owner_id, status, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (task_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`)
	if _, err := s.q.ExecContext(ctx, q, taskID, ownerID, string(model.SyncPending), now()); err != nil {
		return fmt.Errorf("mark sync pending: %w", err)
	}
	return nil
}

// DeleteSyncState removes the mapping once the remote side is gone.
func (s *Store) DeleteSyncState(ctx context.Context, taskID string) error {
	q := s.rebind(`DELETE FROM sync_state WHERE task_id = ?`)
	if _, err := s.q.ExecContext(ctx, q, taskID); err != nil {
		return fmt.Errorf("delete sync state: %w", err)
	}
	return nil
}

// ListSyncStates returns the mappings in any of the given states, oldest
// first. An empty owner lists every owner's rows.
func (s *Store) ListSyncStates(ctx context.Context, ownerID string, statuses ...model.SyncStatus) ([]SyncState, error) {
	query := `SELECT task_id, owner_id, external_event_id, pushed_version, status, last_error, attempts, updated_at
		FROM sync_state WHERE 1 = 1`
	var args []any
	if ownerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, ownerID)
	}
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		in, inArgs, err := sqlx.In(` AND status IN (?)`, names)
		if err != nil {
			return nil, fmt.Errorf("build status filter: %w", err)
		}
		query += in
		args = append(args, inArgs...)
	}
	query += ` ORDER BY updated_at`

	var out []SyncState
	if err := sqlx.SelectContext(ctx, s.q, &out, s.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list sync states: %w", err)
	}
	return out, nil
}
