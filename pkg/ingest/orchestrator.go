// Package ingest is the single entry point that turns drafts and agent
// intents into committed tasks and schedules their calendar sync.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/harrisonrobin/chronos/pkg/calsync"
	"github.com/harrisonrobin/chronos/pkg/extract"
	"github.com/harrisonrobin/chronos/pkg/model"
	"github.com/harrisonrobin/chronos/pkg/slots"
	"github.com/harrisonrobin/chronos/pkg/store"
)

// Syncer accepts calendar sync requests. Enqueue must not block on the
// external calendar.
type Syncer interface {
	Enqueue(req calsync.Request) error
}

type Config struct {
	DedupWindow     time.Duration
	Timeout         time.Duration
	DefaultDuration time.Duration
	Location        *time.Location
	Hours           slots.Hours
}

func (c *Config) setDefaults() {
	if c.DedupWindow <= 0 {
		c.DedupWindow = 30 * time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.DefaultDuration <= 0 {
		c.DefaultDuration = time.Hour
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.Hours == (slots.Hours{}) {
		c.Hours = slots.DefaultHours
	}
}

// Ack acknowledges a mutation that leaves no task behind.
type Ack struct {
	TaskID  string `json:"task_id"`
	Version int64  `json:"version"`
}

// Result is what a submission produced: one task, a list of tasks, or an
// acknowledgement.
type Result struct {
	Task  *model.Task  `json:"task,omitempty"`
	Tasks []model.Task `json:"tasks,omitempty"`
	Ack   *Ack         `json:"ack,omitempty"`
	// Merged is set when a draft folded into an existing task.
	Merged bool `json:"merged,omitempty"`
}

type Orchestrator struct {
	log   *slog.Logger
	store *store.Store
	sync  Syncer
	cfg   Config
	locks *ownerLocks
}

func New(log *slog.Logger, st *store.Store, syncer Syncer, cfg Config) *Orchestrator {
	cfg.setDefaults()
	return &Orchestrator{
		log:   log,
		store: st,
		sync:  syncer,
		cfg:   cfg,
		locks: newOwnerLocks(),
	}
}

// Submit accepts a model.Draft or a model.Intent on behalf of id.
func (o *Orchestrator) Submit(ctx context.Context, id model.Identity, in model.Input) (Result, error) {
	if err := id.Validate(); err != nil {
		return Result{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	var (
		res Result
		err error
	)
	switch v := in.(type) {
	case model.Draft:
		res, err = o.submitDraft(ctx, id.OwnerID, v)
	case *model.Draft:
		res, err = o.submitDraft(ctx, id.OwnerID, *v)
	case model.Intent:
		res, err = o.submitIntent(ctx, id.OwnerID, v)
	case *model.Intent:
		res, err = o.submitIntent(ctx, id.OwnerID, *v)
	default:
		err = fmt.Errorf("%w: unsupported input %T", model.ErrInvalidInput, in)
	}
	return res, o.timeout(ctx, err)
}

// SubmitAll merges every draft of one document in a single transaction:
// either all of them commit or none does. The sequence is drained before
// the owner lock and the transaction are taken.
func (o *Orchestrator) SubmitAll(ctx context.Context, id model.Identity, seq iter.Seq2[model.Draft, error]) (Result, error) {
	if err := id.Validate(); err != nil {
		return Result{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	drafts, err := extract.Collect(seq)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return Result{}, o.timeout(ctx, err)
	}

	unlock := o.locks.lock(id.OwnerID)
	defer unlock()

	var (
		tasks []model.Task
		reqs  []calsync.Request
	)
	err = o.store.WithTx(ctx, func(tx *store.Store) error {
		for _, d := range drafts {
			t, _, req, err := o.mergeDraft(ctx, tx, id.OwnerID, d)
			if err != nil {
				return fmt.Errorf("draft %q: %w", d.Title, err)
			}
			tasks = replaceOrAppend(tasks, t)
			if req != nil {
				reqs = append(reqs, *req)
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, o.timeout(ctx, err)
	}

	o.enqueue(reqs...)
	o.log.Info("document ingested", "owner_id", id.OwnerID, "tasks", len(tasks), "writes", len(reqs))
	return Result{Tasks: tasks}, nil
}

func (o *Orchestrator) submitDraft(ctx context.Context, ownerID string, d model.Draft) (Result, error) {
	unlock := o.locks.lock(ownerID)
	defer unlock()

	var (
		task   model.Task
		merged bool
		req    *calsync.Request
	)
	err := o.store.WithTx(ctx, func(tx *store.Store) error {
		var err error
		task, merged, req, err = o.mergeDraft(ctx, tx, ownerID, d)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	if req != nil {
		o.enqueue(*req)
	}
	return Result{Task: &task, Merged: merged}, nil
}

// mergeDraft validates d and either folds it into the task it duplicates or
// creates a new task. The returned request is nil when nothing was written.
func (o *Orchestrator) mergeDraft(ctx context.Context, tx *store.Store, ownerID string, d model.Draft) (model.Task, bool, *calsync.Request, error) {
	if err := d.Validate(); err != nil {
		return model.Task{}, false, nil, err
	}
	d.StartTime, d.EndTime = normalize(d.StartTime), normalize(d.EndTime)

	candidates, err := tx.FindByTitle(ctx, ownerID, d.Title)
	if err != nil {
		return model.Task{}, false, nil, err
	}

	existing, found := pickCandidate(candidates, d, o.cfg.DedupWindow)
	if !found {
		t := model.Task{
			OwnerID:      ownerID,
			Title:        d.Title,
			StartTime:    d.StartTime,
			EndTime:      d.EndTime,
			Source:       d.Source,
			Confidence:   d.Confidence,
			TimeInferred: d.Inferred,
		}
		if err := tx.CreateTask(ctx, &t); err != nil {
			return model.Task{}, false, nil, err
		}
		req, err := o.markPending(ctx, tx, &t, calsync.OpUpsert, t.Version)
		if err != nil {
			return model.Task{}, false, nil, err
		}
		o.log.Debug("task created", "owner_id", ownerID, "task_id", t.ID, "source", t.Source)
		return t, false, req, nil
	}

	updated, changed := merge(existing, d)
	if !changed {
		return existing, true, nil, nil
	}
	if err := model.ValidateWindow(updated.StartTime, updated.EndTime); err != nil {
		return model.Task{}, false, nil, err
	}
	if err := tx.UpdateTask(ctx, &updated, existing.Version); err != nil {
		return model.Task{}, false, nil, err
	}
	req, err := o.markPending(ctx, tx, &updated, calsync.OpUpsert, updated.Version)
	if err != nil {
		return model.Task{}, false, nil, err
	}
	o.log.Debug("draft merged", "owner_id", ownerID, "task_id", updated.ID, "version", updated.Version)
	return updated, true, req, nil
}

// markPending flags the task as awaiting sync inside the transaction and
// returns the request to enqueue once it commits.
func (o *Orchestrator) markPending(ctx context.Context, tx *store.Store, t *model.Task, op calsync.Op, version int64) (*calsync.Request, error) {
	if err := tx.MarkSyncPending(ctx, t.OwnerID, t.ID); err != nil {
		return nil, err
	}
	t.SyncStatus = model.SyncPending
	return &calsync.Request{OwnerID: t.OwnerID, TaskID: t.ID, Version: version, Op: op}, nil
}

// enqueue hands requests to the sync engine. A request that cannot be queued
// stays pending in the store and is resumed when the engine next starts.
func (o *Orchestrator) enqueue(reqs ...calsync.Request) {
	if o.sync == nil {
		return
	}
	for _, req := range reqs {
		if err := o.sync.Enqueue(req); err != nil {
			o.log.Warn("sync request left pending", "task_id", req.TaskID, "op", req.Op, "error", err)
		}
	}
}

// timeout reports an expired operation deadline as model.ErrTimeout.
func (o *Orchestrator) timeout(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if errors.Is(err, model.ErrTimeout) {
			return err
		}
		return fmt.Errorf("%w: operation exceeded %s: %v", model.ErrTimeout, o.cfg.Timeout, err)
	}
	return err
}

func normalize(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC().Truncate(time.Microsecond)
	return &u
}

func replaceOrAppend(tasks []model.Task, t model.Task) []model.Task {
	for i := range tasks {
		if tasks[i].ID == t.ID {
			tasks[i] = t
			return tasks
		}
	}
	return append(tasks, t)
}
