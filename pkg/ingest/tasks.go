package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harrisonrobin/chronos/pkg/calsync"
	"github.com/harrisonrobin/chronos/pkg/model"
	"github.com/harrisonrobin/chronos/pkg/slots"
	"github.com/harrisonrobin/chronos/pkg/store"
)

// Patch is a partial task update. Version is the version the caller read.
type Patch struct {
	Version   int64
	Title     *string
	StartTime *time.Time
	EndTime   *time.Time
	// ClearTime removes the time window, taking the task off the calendar.
	ClearTime bool
}

func (p Patch) empty() bool {
	return p.Title == nil && p.StartTime == nil && p.EndTime == nil && !p.ClearTime
}

type Filter = store.Filter

// SlotRequest asks for free starts on Day that fit Duration plus Buffer.
type SlotRequest struct {
	Day      time.Time
	Duration time.Duration
	Buffer   time.Duration
}

func (o *Orchestrator) submitIntent(ctx context.Context, ownerID string, in model.Intent) (Result, error) {
	if err := in.Validate(); err != nil {
		return Result{}, err
	}

	switch in.Kind {
	case model.IntentCreate:
		if in.Payload.Title == nil {
			return Result{}, fmt.Errorf("%w: create requires a title", model.ErrInvalidInput)
		}
		return o.submitDraft(ctx, ownerID, model.Draft{
			Title:      *in.Payload.Title,
			StartTime:  in.Payload.StartTime,
			EndTime:    in.Payload.EndTime,
			Inferred:   in.Payload.Inferred,
			Confidence: in.Confidence,
			Source:     model.SourceAgent,
		})
	case model.IntentUpdate:
		p := Patch{
			Version:   in.Payload.Version,
			Title:     in.Payload.Title,
			StartTime: in.Payload.StartTime,
			EndTime:   in.Payload.EndTime,
		}
		t, err := o.update(ctx, ownerID, in.TargetTaskID, p)
		if err != nil {
			return Result{}, err
		}
		return Result{Task: &t}, nil
	case model.IntentDelete:
		ack, err := o.delete(ctx, ownerID, in.TargetTaskID, in.Payload.Version)
		if err != nil {
			return Result{}, err
		}
		return Result{Ack: &ack}, nil
	default:
		tasks, err := o.query(ctx, ownerID, Filter{From: in.Payload.From, To: in.Payload.To})
		if err != nil {
			return Result{}, err
		}
		return Result{Tasks: tasks}, nil
	}
}

// Update applies p to a task owned by id. p.Version is required; a stale
// version yields model.ErrConflict.
func (o *Orchestrator) Update(ctx context.Context, id model.Identity, taskID string, p Patch) (model.Task, error) {
	if err := id.Validate(); err != nil {
		return model.Task{}, err
	}
	if p.Version <= 0 {
		return model.Task{}, fmt.Errorf("%w: version is required", model.ErrInvalidInput)
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	t, err := o.update(ctx, id.OwnerID, taskID, p)
	return t, o.timeout(ctx, err)
}

// update applies p. A zero p.Version means the version read in the same
// transaction.
func (o *Orchestrator) update(ctx context.Context, ownerID, taskID string, p Patch) (model.Task, error) {
	if p.empty() {
		return model.Task{}, fmt.Errorf("%w: nothing to update", model.ErrInvalidInput)
	}

	var (
		task model.Task
		req  *calsync.Request
	)
	err := o.store.WithTx(ctx, func(tx *store.Store) error {
		current, err := o.owned(ctx, tx, ownerID, taskID)
		if err != nil {
			return err
		}
		expected := p.Version
		if expected == 0 {
			expected = current.Version
		}
		if expected != current.Version {
			return fmt.Errorf("task %s at version %d, not %d: %w", taskID, current.Version, expected, model.ErrConflict)
		}

		updated, err := applyPatch(current, p)
		if err != nil {
			return err
		}
		if err := tx.UpdateTask(ctx, &updated, expected); err != nil {
			return err
		}
		req, err = o.markPending(ctx, tx, &updated, calsync.OpUpsert, updated.Version)
		if err != nil {
			return err
		}
		task = updated
		return nil
	})
	if err != nil {
		return model.Task{}, err
	}

	o.enqueue(*req)
	o.log.Debug("task updated", "owner_id", ownerID, "task_id", taskID, "version", task.Version)
	return task, nil
}

// applyPatch returns t with p applied. Moving the start alone keeps the
// task's duration; a stated time is no longer inferred.
func applyPatch(t model.Task, p Patch) (model.Task, error) {
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return model.Task{}, fmt.Errorf("%w: title is required", model.ErrInvalidInput)
		}
		t.Title = title
	}

	switch {
	case p.ClearTime:
		t.StartTime, t.EndTime = nil, nil
		t.TimeInferred = false
	case p.StartTime != nil || p.EndTime != nil:
		start, end := normalize(p.StartTime), normalize(p.EndTime)
		if start != nil && end == nil && t.StartTime != nil && t.EndTime != nil {
			e := start.Add(t.EndTime.Sub(*t.StartTime))
			end = &e
		}
		if start == nil {
			start = t.StartTime
		}
		if end == nil && p.StartTime == nil {
			end = t.EndTime
		}
		t.StartTime, t.EndTime = start, end
		t.TimeInferred = false
	}

	if err := model.ValidateWindow(t.StartTime, t.EndTime); err != nil {
		return model.Task{}, err
	}
	return t, nil
}

// Delete removes a task owned by id at the given version and schedules the
// removal of its calendar event.
func (o *Orchestrator) Delete(ctx context.Context, id model.Identity, taskID string, version int64) (Ack, error) {
	if err := id.Validate(); err != nil {
		return Ack{}, err
	}
	if version <= 0 {
		return Ack{}, fmt.Errorf("%w: version is required", model.ErrInvalidInput)
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	ack, err := o.delete(ctx, id.OwnerID, taskID, version)
	return ack, o.timeout(ctx, err)
}

func (o *Orchestrator) delete(ctx context.Context, ownerID, taskID string, version int64) (Ack, error) {
	var req *calsync.Request
	var ack Ack
	err := o.store.WithTx(ctx, func(tx *store.Store) error {
		current, err := o.owned(ctx, tx, ownerID, taskID)
		if err != nil {
			return err
		}
		if version == 0 {
			version = current.Version
		}
		deleted, err := tx.DeleteTask(ctx, ownerID, taskID, version)
		if err != nil {
			return err
		}
		req, err = o.markPending(ctx, tx, &current, calsync.OpDelete, deleted)
		if err != nil {
			return err
		}
		ack = Ack{TaskID: taskID, Version: deleted}
		return nil
	})
	if err != nil {
		return Ack{}, err
	}

	o.enqueue(*req)
	o.log.Debug("task deleted", "owner_id", ownerID, "task_id", taskID)
	return ack, nil
}

// Query lists the tasks of id in f's window, by start time with untimed
// tasks last.
func (o *Orchestrator) Query(ctx context.Context, id model.Identity, f Filter) ([]model.Task, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	tasks, err := o.query(ctx, id.OwnerID, f)
	return tasks, o.timeout(ctx, err)
}

func (o *Orchestrator) query(ctx context.Context, ownerID string, f Filter) ([]model.Task, error) {
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return nil, fmt.Errorf("%w: from must be before to", model.ErrInvalidInput)
	}
	return o.store.ListTasks(ctx, ownerID, f)
}

// Resync schedules another calendar push for a task, typically one left
// sync_failed.
func (o *Orchestrator) Resync(ctx context.Context, id model.Identity, taskID string) (model.Task, error) {
	if err := id.Validate(); err != nil {
		return model.Task{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	var req *calsync.Request
	var task model.Task
	err := o.store.WithTx(ctx, func(tx *store.Store) error {
		t, err := o.owned(ctx, tx, id.OwnerID, taskID)
		if err != nil {
			return err
		}
		req, err = o.markPending(ctx, tx, &t, calsync.OpUpsert, t.Version)
		task = t
		return err
	})
	if err != nil {
		return model.Task{}, o.timeout(ctx, err)
	}

	o.enqueue(*req)
	return task, nil
}

// History returns the audit trail of a task. It outlives the task, so a
// deleted task still has one.
func (o *Orchestrator) History(ctx context.Context, id model.Identity, taskID string) ([]store.AuditEvent, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	events, err := o.store.ListEvents(ctx, taskID)
	if err != nil {
		return nil, o.timeout(ctx, err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("task %s: %w", taskID, model.ErrNotFound)
	}
	if events[0].OwnerID != id.OwnerID {
		return nil, fmt.Errorf("task %s: %w", taskID, model.ErrForbidden)
	}
	return events, nil
}

// ResyncOwner schedules a push of every timed task of ownerID that is not
// already on the calendar. It runs when the owner links a calendar.
func (o *Orchestrator) ResyncOwner(ctx context.Context, ownerID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	var reqs []calsync.Request
	err := o.store.WithTx(ctx, func(tx *store.Store) error {
		tasks, err := tx.ListTasks(ctx, ownerID, Filter{})
		if err != nil {
			return err
		}
		for i := range tasks {
			t := &tasks[i]
			if !t.HasWindow() || t.SyncStatus == model.SyncSynced && t.PushedVersion >= t.Version {
				continue
			}
			req, err := o.markPending(ctx, tx, t, calsync.OpUpsert, t.Version)
			if err != nil {
				return err
			}
			reqs = append(reqs, *req)
		}
		return nil
	})
	if err != nil {
		return 0, o.timeout(ctx, err)
	}

	o.enqueue(reqs...)
	o.log.Info("owner resync scheduled", "owner_id", ownerID, "tasks", len(reqs))
	return len(reqs), nil
}

// SuggestSlots returns free start times on r.Day within working hours.
func (o *Orchestrator) SuggestSlots(ctx context.Context, id model.Identity, r SlotRequest) ([]time.Time, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if r.Duration <= 0 || r.Buffer < 0 {
		return nil, fmt.Errorf("%w: duration must be positive and buffer non-negative", model.ErrInvalidInput)
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	day := r.Day.In(o.cfg.Location)
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, o.cfg.Location)
	to := from.AddDate(0, 0, 1)

	tasks, err := o.store.ListTasks(ctx, id.OwnerID, Filter{From: &from, To: &to})
	if err != nil {
		return nil, o.timeout(ctx, err)
	}
	return slots.Suggest(slots.Busy(tasks, o.cfg.DefaultDuration), from, o.cfg.Hours, r.Duration, r.Buffer), nil
}

// owned loads a task and checks it belongs to ownerID.
func (o *Orchestrator) owned(ctx context.Context, tx *store.Store, ownerID, taskID string) (model.Task, error) {
	t, err := tx.GetTask(ctx, taskID)
	if err != nil {
		return model.Task{}, err
	}
	if t.OwnerID != ownerID {
		return model.Task{}, fmt.Errorf("task %s: %w", taskID, model.ErrForbidden)
	}
	return t, nil
}
