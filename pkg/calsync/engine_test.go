package calsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/harrisonrobin/chronos/pkg/model"
	"github.com/harrisonrobin/chronos/pkg/store"
)

type fakeCalendar struct {
	mu     sync.Mutex
	next   int
	events map[string]Event
	calls  int

	create func(ctx context.Context, ev Event) error
	update func(ctx context.Context, id string) error
	del    func(ctx context.Context, id string) error
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{events: make(map[string]Event)}
}

func (f *fakeCalendar) CreateEvent(ctx context.Context, _ string, ev Event) (string, error) {
	f.mu.Lock()
	f.calls++
	hook := f.create
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, ev); err != nil {
			return "", err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for id, existing := range f.events {
		if existing.TaskID == ev.TaskID {
			f.events[id] = ev
			return id, nil
		}
	}
	f.next++
	id := fmt.Sprintf("evt-%d", f.next)
	f.events[id] = ev
	return id, nil
}

func (f *fakeCalendar) UpdateEvent(ctx context.Context, _ string, id string, ev Event) error {
	f.mu.Lock()
	f.calls++
	hook := f.update
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, id); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[id]; !ok {
		return ErrEventGone
	}
	f.events[id] = ev
	return nil
}

func (f *fakeCalendar) DeleteEvent(ctx context.Context, _ string, id string) error {
	f.mu.Lock()
	f.calls++
	hook := f.del
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, id); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[id]; !ok {
		return ErrEventGone
	}
	delete(f.events, id)
	return nil
}

func (f *fakeCalendar) snapshot() map[string]Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]Event, len(f.events))
	for k, v := range f.events {
		out[k] = v
	}
	return out
}

func testEngine(t *testing.T) (*Engine, *store.Store, *fakeCalendar) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := store.New(log, store.DriverSQLite, filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	cal := newFakeCalendar()
	e := New(log, s, cal, Config{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		CallTimeout:    50 * time.Millisecond,
	})
	return e, s, cal
}

func createTask(t *testing.T, s *store.Store, owner, title string, start *time.Time) model.Task {
	t.Helper()
	task := model.Task{OwnerID: owner, Title: title, StartTime: start, Source: model.SourceManual, Confidence: 1}
	if err := s.CreateTask(context.Background(), &task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return task
}

func at(h int) *time.Time {
	t := time.Date(2024, 6, 10, h, 0, 0, 0, time.UTC)
	return &t
}

func mustReconcile(t *testing.T, e *Engine, req Request, want Outcome) {
	t.Helper()
	got, err := e.Reconcile(context.Background(), req)
	if err != nil {
		t.Fatalf("Reconcile(%+v): %v", req, err)
	}
	if got != want {
		t.Fatalf("Reconcile(%+v): expected %s, got %s", req, want, got)
	}
}

func TestReconcile_CreateUpdateAndReplay(t *testing.T) {
	e, s, cal := testEngine(t)
	ctx := context.Background()
	task := createTask(t, s, "alice", "Team sync", at(10))

	mustReconcile(t, e, Request{OwnerID: "alice", TaskID: task.ID, Version: 1, Op: OpUpsert}, OutcomeCreated)

	st, err := s.GetSyncState(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if st.Status != model.SyncSynced || st.PushedVersion != 1 || st.ExternalEventID == nil {
		t.Fatalf("unexpected sync state %+v", st)
	}
	ev := cal.snapshot()[*st.ExternalEventID]
	if ev.Title != "Team sync" || !ev.End.Equal(at(10).Add(time.Hour)) {
		t.Errorf("unexpected event %+v", ev)
	}

	callsBefore := cal.calls
	mustReconcile(t, e, Request{OwnerID: "alice", TaskID: task.ID, Version: 1, Op: OpUpsert}, OutcomeSkipped)
	if cal.calls != callsBefore {
		t.Errorf("replay must not call the calendar")
	}

	task.Title = "Team sync (moved)"
	task.StartTime = at(11)
	if err := s.UpdateTask(ctx, &task, 1); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	mustReconcile(t, e, Request{OwnerID: "alice", TaskID: task.ID, Version: 2, Op: OpUpsert}, OutcomeUpdated)
	if got := cal.snapshot()[*st.ExternalEventID]; got.Title != "Team sync (moved)" {
		t.Errorf("expected updated title, got %q", got.Title)
	}

	mustReconcile(t, e, Request{OwnerID: "alice", TaskID: task.ID, Version: 1, Op: OpUpsert}, OutcomeStale)
	if len(cal.snapshot()) != 1 {
		t.Errorf("expected exactly one event, got %d", len(cal.snapshot()))
	}
}

func TestReconcile_UntimedTaskNotPushed(t *testing.T) {
	e, s, cal := testEngine(t)
	task := createTask(t, s, "alice", "Buy milk", nil)

	mustReconcile(t, e, Request{OwnerID: "alice", TaskID: task.ID, Version: 1, Op: OpUpsert}, OutcomeSkipped)
	if cal.calls != 0 {
		t.Errorf("expected no calendar calls, got %d", cal.calls)
	}
}

func TestReconcile_StartRemovedDeletesEvent(t *testing.T) {
	e, s, cal := testEngine(t)
	ctx := context.Background()
	task := createTask(t, s, "alice", "Gym", at(18))
	mustReconcile(t, e, Request{OwnerID: "alice", TaskID: task.ID, Version: 1, Op: OpUpsert}, OutcomeCreated)

	task.StartTime = nil
	if err := s.UpdateTask(ctx, &task, 1); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	mustReconcile(t, e, Request{OwnerID: "alice", TaskID: task.ID, Version: 2, Op: OpUpsert}, OutcomeDeleted)

	if len(cal.snapshot()) != 0 {
		t.Errorf("expected calendar to be empty")
	}
	got, _ := s.GetTask(ctx, task.ID)
	if got.ExternalEventID != nil || got.SyncStatus != model.SyncUnsynced {
		t.Errorf("expected mapping cleared, got %+v", got)
	}
}

func TestReconcile_RecreatesGoneEvent(t *testing.T) {
	e, s, cal := testEngine(t)
	ctx := context.Background()
	task := createTask(t, s, "alice", "Standup", at(9))
	mustReconcile(t, e, Request{OwnerID: "alice", TaskID: task.ID, Version: 1, Op: OpUpsert}, OutcomeCreated)

	// Removed by the user directly in the calendar.
	cal.mu.Lock()
	cal.events = make(map[string]Event)
	cal.mu.Unlock()

	task.StartTime = at(10)
	if err := s.UpdateTask(ctx, &task, 1); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	mustReconcile(t, e, Request{OwnerID: "alice", TaskID: task.ID, Version: 2, Op: OpUpsert}, OutcomeRecreated)

	st, _ := s.GetSyncState(ctx, task.ID)
	if _, ok := cal.snapshot()[*st.ExternalEventID]; !ok {
		t.Errorf("expected mapping to point at the recreated event")
	}
}

func TestReconcile_Delete(t *testing.T) {
	e, s, cal := testEngine(t)
	ctx := context.Background()
	task := createTask(t, s, "alice", "Dentist", at(14))
	mustReconcile(t, e, Request{OwnerID: "alice", TaskID: task.ID, Version: 1, Op: OpUpsert}, OutcomeCreated)

	version, err := s.DeleteTask(ctx, "alice", task.ID, 1)
	if err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	mustReconcile(t, e, Request{OwnerID: "alice", TaskID: task.ID, Version: version, Op: OpDelete}, OutcomeDeleted)

	if len(cal.snapshot()) != 0 {
		t.Errorf("expected event removed")
	}
	if _, err := s.GetSyncState(ctx, task.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected mapping removed, got %v", err)
	}

	mustReconcile(t, e, Request{OwnerID: "alice", TaskID: task.ID, Version: version, Op: OpDelete}, OutcomeSkipped)
}

func TestReconcile_DeleteOfGoneEventSucceeds(t *testing.T) {
	e, s, cal := testEngine(t)
	ctx := context.Background()
	task := createTask(t, s, "alice", "Dentist", at(14))
	mustReconcile(t, e, Request{OwnerID: "alice", TaskID: task.ID, Version: 1, Op: OpUpsert}, OutcomeCreated)

	cal.mu.Lock()
	cal.events = make(map[string]Event)
	cal.mu.Unlock()

	version, _ := s.DeleteTask(ctx, "alice", task.ID, 1)
	mustReconcile(t, e, Request{OwnerID: "alice", TaskID: task.ID, Version: version, Op: OpDelete}, OutcomeDeleted)
}

func TestReconcile_TimeoutExhaustsRetries(t *testing.T) {
	e, s, cal := testEngine(t)
	ctx := context.Background()
	cal.create = func(ctx context.Context, _ Event) error {
		<-ctx.Done()
		return ctx.Err()
	}
	task := createTask(t, s, "alice", "Team sync", at(10))

	outcome, err := e.Reconcile(ctx, Request{OwnerID: "alice", TaskID: task.ID, Version: 1, Op: OpUpsert})
	if outcome != OutcomeFailed {
		t.Fatalf("expected failed, got %s", outcome)
	}
	if !errors.Is(err, model.ErrSyncFailed) || !errors.Is(err, model.ErrTimeout) {
		t.Fatalf("expected sync failed by timeout, got %v", err)
	}
	if cal.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", cal.calls)
	}

	st, err := s.GetSyncState(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if st.Status != model.SyncFailed || st.Attempts != 3 || st.LastError == "" {
		t.Errorf("unexpected sync state %+v", st)
	}

	got, _ := s.GetTask(ctx, task.ID)
	if got.Version != 1 || got.Title != "Team sync" {
		t.Errorf("sync failure must leave the task untouched, got %+v", got)
	}
}

func TestReconcile_EditDuringPushStaysPending(t *testing.T) {
	e, s, cal := testEngine(t)
	ctx := context.Background()
	task := createTask(t, s, "alice", "Team sync", at(10))
	if err := s.MarkSyncPending(ctx, "alice", task.ID); err != nil {
		t.Fatalf("MarkSyncPending: %v", err)
	}

	var once sync.Once
	cal.create = func(ctx context.Context, _ Event) error {
		var err error
		once.Do(func() {
			moved := task
			moved.StartTime = at(11)
			if err = s.UpdateTask(ctx, &moved, 1); err != nil {
				return
			}
			err = s.MarkSyncPending(ctx, "alice", task.ID)
		})
		return err
	}

	mustReconcile(t, e, Request{OwnerID: "alice", TaskID: task.ID, Version: 1, Op: OpUpsert}, OutcomeCreated)

	st, err := s.GetSyncState(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if st.Status != model.SyncPending || st.PushedVersion != 1 {
		t.Fatalf("expected the newer edit to stay pending, got %+v", st)
	}
	pending, err := s.ListSyncStates(ctx, "alice", model.SyncPending)
	if err != nil {
		t.Fatalf("ListSyncStates: %v", err)
	}
	if len(pending) != 1 || pending[0].TaskID != task.ID {
		t.Fatalf("expected the task to be resumable, got %+v", pending)
	}

	mustReconcile(t, e, Request{OwnerID: "alice", TaskID: task.ID, Version: 2, Op: OpUpsert}, OutcomeUpdated)
	if ev := cal.snapshot()[*st.ExternalEventID]; !ev.Start.Equal(*at(11)) {
		t.Errorf("expected the event moved to 11:00, got %v", ev.Start)
	}
	got, _ := s.GetTask(ctx, task.ID)
	if got.SyncStatus != model.SyncSynced || got.PushedVersion != 2 {
		t.Errorf("expected synced at version 2, got %s at %d", got.SyncStatus, got.PushedVersion)
	}
}

func TestReconcile_FailureOfCurrentVersionRecorded(t *testing.T) {
	e, s, cal := testEngine(t)
	ctx := context.Background()
	cal.create = func(context.Context, Event) error { return errors.New("invalid calendar") }
	task := createTask(t, s, "alice", "Team sync", at(10))
	if err := s.MarkSyncPending(ctx, "alice", task.ID); err != nil {
		t.Fatalf("MarkSyncPending: %v", err)
	}

	if _, err := e.Reconcile(ctx, Request{OwnerID: "alice", TaskID: task.ID, Version: 1, Op: OpUpsert}); err == nil {
		t.Fatal("expected error")
	}
	got, _ := s.GetTask(ctx, task.ID)
	if got.SyncStatus != model.SyncFailed {
		t.Errorf("expected sync_failed, got %s", got.SyncStatus)
	}
}

func TestReconcile_PermanentErrorNotRetried(t *testing.T) {
	e, s, cal := testEngine(t)
	cal.create = func(context.Context, Event) error { return errors.New("invalid calendar") }
	task := createTask(t, s, "alice", "Team sync", at(10))

	if _, err := e.Reconcile(context.Background(), Request{OwnerID: "alice", TaskID: task.ID, Version: 1, Op: OpUpsert}); err == nil {
		t.Fatal("expected error")
	}
	if cal.calls != 1 {
		t.Errorf("expected a single attempt, got %d", cal.calls)
	}
}

func TestReconcile_TransientRecovers(t *testing.T) {
	e, s, cal := testEngine(t)
	failures := 2
	cal.create = func(context.Context, Event) error {
		if failures > 0 {
			failures--
			return fmt.Errorf("%w: 503", model.ErrTransient)
		}
		return nil
	}
	task := createTask(t, s, "alice", "Team sync", at(10))
	mustReconcile(t, e, Request{OwnerID: "alice", TaskID: task.ID, Version: 1, Op: OpUpsert}, OutcomeCreated)
}

func TestReconcile_OtherOwner(t *testing.T) {
	e, s, _ := testEngine(t)
	task := createTask(t, s, "alice", "Team sync", at(10))
	mustReconcile(t, e, Request{OwnerID: "alice", TaskID: task.ID, Version: 1, Op: OpUpsert}, OutcomeCreated)

	_, err := e.Reconcile(context.Background(), Request{OwnerID: "mallory", TaskID: task.ID, Op: OpDelete})
	if !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestEngine_Lifecycle(t *testing.T) {
	e, _, _ := testEngine(t)
	req := Request{OwnerID: "alice", TaskID: "x", Op: OpUpsert}
	if err := e.Enqueue(req); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.Close()
	if err := e.Enqueue(req); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestEngine_QueueAppliesLatestState(t *testing.T) {
	e, s, cal := testEngine(t)
	ctx := context.Background()

	var mu sync.Mutex
	var outcomes []Outcome
	e.OnOutcome = func(_ Request, o Outcome, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			t.Errorf("unexpected sync error: %v", err)
		}
		outcomes = append(outcomes, o)
	}
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Close()

	task := createTask(t, s, "alice", "Review", at(15))
	if err := e.Enqueue(Request{OwnerID: "alice", TaskID: task.ID, Version: 1, Op: OpUpsert}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	e.Wait()

	task.Title = "Review PR"
	if err := s.UpdateTask(ctx, &task, 1); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if err := e.Enqueue(Request{OwnerID: "alice", TaskID: task.ID, Version: 2, Op: OpUpsert}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	e.Wait()

	events := cal.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	for _, ev := range events {
		if ev.Title != "Review PR" {
			t.Errorf("expected latest title, got %q", ev.Title)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) != 2 || outcomes[0] != OutcomeCreated || outcomes[1] != OutcomeUpdated {
		t.Errorf("unexpected outcomes %v", outcomes)
	}
}

func TestEngine_StartResumesPending(t *testing.T) {
	e, s, cal := testEngine(t)
	ctx := context.Background()
	task := createTask(t, s, "alice", "Left over", at(8))
	if err := s.MarkSyncPending(ctx, "alice", task.ID); err != nil {
		t.Fatalf("MarkSyncPending: %v", err)
	}

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Close()
	e.Wait()

	if len(cal.snapshot()) != 1 {
		t.Fatalf("expected resumed task to be pushed")
	}
	got, _ := s.GetTask(ctx, task.ID)
	if got.SyncStatus != model.SyncSynced {
		t.Errorf("expected synced, got %s", got.SyncStatus)
	}
}
