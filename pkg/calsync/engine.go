package calsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/harrisonrobin/chronos/pkg/model"
	"github.com/harrisonrobin/chronos/pkg/store"
)

type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Request asks the engine to bring a task's calendar event up to date with
// the given task version. Version 0 means whatever version is current.
type Request struct {
	OwnerID string
	TaskID  string
	Version int64
	Op      Op
}

type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeDeleted   Outcome = "deleted"
	OutcomeRecreated Outcome = "recreated"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeStale     Outcome = "stale"
	OutcomeFailed    Outcome = "failed"
)

var (
	ErrNotStarted = errors.New("sync engine not started")
	ErrClosed     = errors.New("sync engine closed")
	ErrQueueFull  = errors.New("sync queue full")
)

// Store is the part of the task store the engine reads and writes.
type Store interface {
	GetTask(ctx context.Context, id string) (model.Task, error)
	GetSyncState(ctx context.Context, taskID string) (store.SyncState, error)
	PutSyncState(ctx context.Context, st store.SyncState) error
	DeleteSyncState(ctx context.Context, taskID string) error
	ListSyncStates(ctx context.Context, ownerID string, statuses ...model.SyncStatus) ([]store.SyncState, error)
}

type Config struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	CallTimeout     time.Duration
	QueueSize       int
	DefaultDuration time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 20 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.DefaultDuration <= 0 {
		c.DefaultDuration = time.Hour
	}
}

// Engine runs one worker goroutine per owner with queued requests, so calls
// to an owner's calendar are serial and a task's requests are handled in
// submission order.
type Engine struct {
	log   *slog.Logger
	store Store
	cal   Calendar
	cfg   Config

	// OnOutcome, if set, is called after every queued request is handled.
	OnOutcome func(Request, Outcome, error)

	mu      sync.Mutex
	idle    *sync.Cond
	ctx     context.Context
	cancel  context.CancelFunc
	closed  bool
	queues  map[string][]Request
	running map[string]bool
}

func New(log *slog.Logger, st Store, cal Calendar, cfg Config) *Engine {
	cfg.setDefaults()
	e := &Engine{
		log:     log,
		store:   st,
		cal:     cal,
		cfg:     cfg,
		queues:  make(map[string][]Request),
		running: make(map[string]bool),
	}
	e.idle = sync.NewCond(&e.mu)
	return e
}

// Start makes the engine accept requests and re-queues every task left
// pending by a previous run.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.ctx != nil {
		e.mu.Unlock()
		return errors.New("sync engine already started")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	pending, err := e.store.ListSyncStates(ctx, "", model.SyncPending)
	if err != nil {
		return fmt.Errorf("load pending sync state: %w", err)
	}
	for _, st := range pending {
		if err := e.Enqueue(e.resumeRequest(ctx, st)); err != nil {
			e.log.Warn("could not resume sync", "task_id", st.TaskID, "error", err)
		}
	}
	if len(pending) > 0 {
		e.log.Info("resumed pending sync requests", "count", len(pending))
	}
	return nil
}

// Retry re-queues an owner's pending and failed tasks.
func (e *Engine) Retry(ctx context.Context, ownerID string) (int, error) {
	states, err := e.store.ListSyncStates(ctx, ownerID, model.SyncPending, model.SyncFailed)
	if err != nil {
		return 0, err
	}
	for _, st := range states {
		if err := e.Enqueue(e.resumeRequest(ctx, st)); err != nil {
			return 0, err
		}
	}
	return len(states), nil
}

func (e *Engine) resumeRequest(ctx context.Context, st store.SyncState) Request {
	req := Request{OwnerID: st.OwnerID, TaskID: st.TaskID, Op: OpUpsert}
	if _, err := e.store.GetTask(ctx, st.TaskID); errors.Is(err, model.ErrNotFound) {
		req.Op = OpDelete
	}
	return req
}

// Close stops accepting requests, cancels in-flight calls and waits for the
// workers to exit. Requests still queued stay pending in the store and are
// picked up by the next Start.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	if e.cancel != nil {
		e.cancel()
	}
	for len(e.running) > 0 {
		e.idle.Wait()
	}
	e.mu.Unlock()
}

// Wait blocks until every queue is drained.
func (e *Engine) Wait() {
	e.mu.Lock()
	for len(e.running) > 0 {
		e.idle.Wait()
	}
	e.mu.Unlock()
}

// Enqueue hands req to the owner's worker. A request for a task that is
// already queued replaces the queued one.
func (e *Engine) Enqueue(req Request) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.closed:
		return ErrClosed
	case e.ctx == nil:
		return ErrNotStarted
	}

	q := e.queues[req.OwnerID]
	replaced := false
	for i := range q {
		if q[i].TaskID == req.TaskID {
			q[i] = req
			replaced = true
			break
		}
	}
	if !replaced {
		if len(q) >= e.cfg.QueueSize {
			return fmt.Errorf("%w for owner %s", ErrQueueFull, req.OwnerID)
		}
		q = append(q, req)
	}
	e.queues[req.OwnerID] = q

	if !e.running[req.OwnerID] {
		e.running[req.OwnerID] = true
		go e.drain(req.OwnerID)
	}
	return nil
}

func (e *Engine) drain(ownerID string) {
	for {
		e.mu.Lock()
		q := e.queues[ownerID]
		if len(q) == 0 || e.ctx.Err() != nil {
			delete(e.running, ownerID)
			e.idle.Broadcast()
			e.mu.Unlock()
			return
		}
		req := q[0]
		if len(q) == 1 {
			delete(e.queues, ownerID)
		} else {
			e.queues[ownerID] = q[1:]
		}
		ctx := e.ctx
		e.mu.Unlock()

		outcome, err := e.Reconcile(ctx, req)
		if err != nil {
			e.log.Error("calendar sync failed", "owner_id", req.OwnerID, "task_id", req.TaskID, "op", req.Op, "error", err)
		} else {
			e.log.Debug("calendar sync", "owner_id", req.OwnerID, "task_id", req.TaskID, "op", req.Op, "outcome", outcome)
		}
		if e.OnOutcome != nil {
			e.OnOutcome(req, outcome, err)
		}
	}
}

// Reconcile applies a single request. It is idempotent: replaying a request
// whose version has already been pushed changes nothing.
func (e *Engine) Reconcile(ctx context.Context, req Request) (Outcome, error) {
	st, err := e.store.GetSyncState(ctx, req.TaskID)
	hasState := err == nil
	switch {
	case errors.Is(err, model.ErrNotFound):
		st = store.SyncState{TaskID: req.TaskID, OwnerID: req.OwnerID}
	case err != nil:
		return OutcomeFailed, err
	}
	if st.OwnerID != req.OwnerID {
		return OutcomeSkipped, fmt.Errorf("task %s: %w", req.TaskID, model.ErrForbidden)
	}

	if req.Version > 0 && req.Version < st.PushedVersion {
		e.log.Debug("dropping stale sync request", "task_id", req.TaskID, "version", req.Version, "pushed_version", st.PushedVersion)
		return OutcomeStale, nil
	}

	if req.Op == OpDelete {
		return e.reconcileDelete(ctx, st, hasState)
	}

	task, err := e.store.GetTask(ctx, req.TaskID)
	if errors.Is(err, model.ErrNotFound) {
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}
	if st.Status == model.SyncSynced && st.PushedVersion >= task.Version {
		return OutcomeSkipped, nil
	}
	st.TaskVersion = task.Version

	ev, ok := EventFor(task, e.cfg.DefaultDuration)
	if !ok {
		return e.unschedule(ctx, st, hasState, task.Version)
	}

	outcome := OutcomeCreated
	if st.ExternalEventID != nil {
		eventID := *st.ExternalEventID
		attempts, err := e.call(ctx, func(ctx context.Context) error {
			return e.cal.UpdateEvent(ctx, req.OwnerID, eventID, ev)
		})
		switch {
		case errors.Is(err, ErrEventGone):
			st.ExternalEventID = nil
			outcome = OutcomeRecreated
		case err != nil:
			return e.fail(ctx, st, attempts, err)
		default:
			outcome = OutcomeUpdated
		}
	}

	if st.ExternalEventID == nil {
		var eventID string
		attempts, err := e.call(ctx, func(ctx context.Context) error {
			id, err := e.cal.CreateEvent(ctx, req.OwnerID, ev)
			eventID = id
			return err
		})
		if err != nil {
			return e.fail(ctx, st, attempts, err)
		}
		st.ExternalEventID = &eventID
	}

	st.PushedVersion = task.Version
	st.Status = model.SyncSynced
	st.LastError = ""
	st.Attempts = 0
	if err := e.store.PutSyncState(ctx, st); err != nil {
		return OutcomeFailed, err
	}
	return outcome, nil
}

// unschedule removes the event of a task whose start time was cleared.
func (e *Engine) unschedule(ctx context.Context, st store.SyncState, hasState bool, version int64) (Outcome, error) {
	outcome := OutcomeSkipped
	if st.ExternalEventID != nil {
		if err := e.deleteEvent(ctx, &st); err != nil {
			return OutcomeFailed, err
		}
		outcome = OutcomeDeleted
	}
	if !hasState && outcome == OutcomeSkipped {
		return outcome, nil
	}

	st.ExternalEventID = nil
	st.PushedVersion = version
	st.Status = model.SyncUnsynced
	st.LastError = ""
	st.Attempts = 0
	if err := e.store.PutSyncState(ctx, st); err != nil {
		return OutcomeFailed, err
	}
	return outcome, nil
}

func (e *Engine) reconcileDelete(ctx context.Context, st store.SyncState, hasState bool) (Outcome, error) {
	if !hasState {
		return OutcomeSkipped, nil
	}
	outcome := OutcomeSkipped
	if st.ExternalEventID != nil {
		if err := e.deleteEvent(ctx, &st); err != nil {
			return OutcomeFailed, err
		}
		outcome = OutcomeDeleted
	}
	if err := e.store.DeleteSyncState(ctx, st.TaskID); err != nil {
		return OutcomeFailed, err
	}
	return outcome, nil
}

// deleteEvent removes the remote event; one that is already gone counts as
// deleted. On failure the mapping is marked failed and kept.
func (e *Engine) deleteEvent(ctx context.Context, st *store.SyncState) error {
	eventID := *st.ExternalEventID
	attempts, err := e.call(ctx, func(ctx context.Context) error {
		return e.cal.DeleteEvent(ctx, st.OwnerID, eventID)
	})
	if err == nil || errors.Is(err, ErrEventGone) {
		return nil
	}
	_, err = e.fail(ctx, *st, attempts, err)
	return err
}

// fail records sync_failed with the last error. A cancelled engine leaves
// the mapping untouched so the request is resumed on the next start.
func (e *Engine) fail(ctx context.Context, st store.SyncState, attempts int, cause error) (Outcome, error) {
	if ctx.Err() != nil {
		return OutcomeFailed, cause
	}
	st.Status = model.SyncFailed
	st.LastError = cause.Error()
	st.Attempts += attempts
	if err := e.store.PutSyncState(ctx, st); err != nil {
		e.log.Error("could not record sync failure", "task_id", st.TaskID, "error", err)
	}
	return OutcomeFailed, fmt.Errorf("%w: task %s: %w", model.ErrSyncFailed, st.TaskID, cause)
}

// call runs fn with a per-call timeout, retrying transient failures with
// exponential backoff up to MaxAttempts. It returns the attempts made.
func (e *Engine) call(ctx context.Context, fn func(context.Context) error) (int, error) {
	bo := gax.Backoff{
		Initial:    e.cfg.InitialBackoff,
		Max:        e.cfg.MaxBackoff,
		Multiplier: 2,
	}
	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		err := fn(callCtx)
		cancel()
		if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: calendar call exceeded %s", model.ErrTimeout, e.cfg.CallTimeout)
		}
		if err == nil || !model.Retryable(err) || attempt >= e.cfg.MaxAttempts {
			return attempt, err
		}
		if err := gax.Sleep(ctx, bo.Pause()); err != nil {
			return attempt, err
		}
	}
}
