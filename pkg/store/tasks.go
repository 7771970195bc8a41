package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harrisonrobin/chronos/pkg/model"
	"github.com/jmoiron/sqlx"
)

// Filter narrows a task listing. From is inclusive, To exclusive; both apply
// to start_time, so untimed tasks only appear in an unbounded listing.
type Filter struct {
	From *time.Time
	To   *time.Time
}

const taskColumns = `t.id, t.owner_id, t.title, t.start_time, t.end_time, t.source, t.confidence,
	t.time_inferred, t.created_at, t.updated_at, t.version,
	ss.external_event_id, COALESCE(ss.status, 'unsynced') AS sync_status,
	COALESCE(ss.pushed_version, 0) AS pushed_version`

const taskFrom = ` FROM tasks t LEFT JOIN sync_state ss ON ss.task_id = t.id`

const taskOrder = ` ORDER BY CASE WHEN t.start_time IS NULL THEN 1 ELSE 0 END, t.start_time, t.created_at`

// CreateTask inserts t with a fresh id and version 1 and records the audit event.
func (s *Store) CreateTask(ctx context.Context, t *model.Task) error {
	ts := now()
	t.ID = uuid.NewString()
	t.Version = 1
	t.CreatedAt = ts
	t.UpdatedAt = ts
	t.StartTime = utc(t.StartTime)
	t.EndTime = utc(t.EndTime)
	t.SyncStatus = model.SyncUnsynced

	q := s.rebind(`
		INSERT INTO tasks (id, owner_id, title, title_key, start_time, end_time, source,
			confidence, time_inferred, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.q.ExecContext(ctx, q,
		t.ID, t.OwnerID, t.Title, model.NormalizeTitle(t.Title), t.StartTime, t.EndTime,
		string(t.Source), t.Confidence, t.TimeInferred, t.CreatedAt, t.UpdatedAt, t.Version,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return s.AddEvent(ctx, AuditEvent{TaskID: t.ID, OwnerID: t.OwnerID, Version: t.Version, Op: OpCreate, Source: t.Source})
}

// GetTask returns a task by id regardless of owner; ownership is the caller's check.
func (s *Store) GetTask(ctx context.Context, id string) (model.Task, error) {
	var t model.Task
	q := s.rebind(`SELECT ` + taskColumns + taskFrom + ` WHERE t.id = ?`)
	if err := sqlx.GetContext(ctx, s.q, &t, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Task{}, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
		}
		return model.Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListTasks returns an owner's tasks ordered by start time, untimed last.
func (s *Store) ListTasks(ctx context.Context, ownerID string, f Filter) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + taskFrom + ` WHERE t.owner_id = ?`
	args := []any{ownerID}
	if f.From != nil {
		query += ` AND t.start_time >= ?`
		args = append(args, utc(f.From))
	}
	if f.To != nil {
		query += ` AND t.start_time < ?`
		args = append(args, utc(f.To))
	}
	query += taskOrder

	var out []model.Task
	if err := sqlx.SelectContext(ctx, s.q, &out, s.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return out, nil
}

// FindByTitle returns an owner's tasks whose normalized title equals that of title.
func (s *Store) FindByTitle(ctx context.Context, ownerID, title string) ([]model.Task, error) {
	q := s.rebind(`SELECT ` + taskColumns + taskFrom + ` WHERE t.owner_id = ? AND t.title_key = ?` + taskOrder)
	var out []model.Task
	if err := sqlx.SelectContext(ctx, s.q, &out, q, ownerID, model.NormalizeTitle(title)); err != nil {
		return nil, fmt.Errorf("find tasks by title: %w", err)
	}
	return out, nil
}

// UpdateTask writes t if the stored version still equals expected, bumping
// the version by one. A stale expected version yields model.ErrConflict.
func (s *Store) UpdateTask(ctx context.Context, t *model.Task, expected int64) error {
	ts := now()
	start, end := utc(t.StartTime), utc(t.EndTime)

	q := s.rebind(`
		UPDATE tasks
		SET title = ?, title_key = ?, start_time = ?, end_time = ?, confidence = ?,
			time_inferred = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND owner_id = ? AND version = ?`)
	res, err := s.q.ExecContext(ctx, q,
		t.Title, model.NormalizeTitle(t.Title), start, end, t.Confidence,
		t.TimeInferred, ts, t.ID, t.OwnerID, expected,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if err := s.checkVersioned(ctx, res, t.ID); err != nil {
		return err
	}

	t.StartTime, t.EndTime = start, end
	t.UpdatedAt = ts
	t.Version = expected + 1
	return s.AddEvent(ctx, AuditEvent{TaskID: t.ID, OwnerID: t.OwnerID, Version: t.Version, Op: OpUpdate, Source: t.Source})
}

// DeleteTask removes the task if its version still equals expected and
// returns the version the deletion represents.
func (s *Store) DeleteTask(ctx context.Context, ownerID, id string, expected int64) (int64, error) {
	q := s.rebind(`DELETE FROM tasks WHERE id = ? AND owner_id = ? AND version = ?`)
	res, err := s.q.ExecContext(ctx, q, id, ownerID, expected)
	if err != nil {
		return 0, fmt.Errorf("delete task: %w", err)
	}
	if err := s.checkVersioned(ctx, res, id); err != nil {
		return 0, err
	}

	version := expected + 1
	if err := s.AddEvent(ctx, AuditEvent{TaskID: id, OwnerID: ownerID, Version: version, Op: OpDelete}); err != nil {
		return 0, err
	}
	return version, nil
}

// checkVersioned turns a zero-row versioned write into NotFound or Conflict.
func (s *Store) checkVersioned(ctx context.Context, res sql.Result, id string) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if aff > 0 {
		return nil
	}

	var exists int
	q := s.rebind(`SELECT COUNT(*) FROM tasks WHERE id = ?`)
	if err := s.q.QueryRowxContext(ctx, q, id).Scan(&exists); err != nil {
		return fmt.Errorf("check task: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	return fmt.Errorf("task %s: %w", id, model.ErrConflict)
}
