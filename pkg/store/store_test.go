package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/harrisonrobin/chronos/pkg/model"
)

// testStore creates a temporary SQLite store for testing.
func testStore(t *testing.T) *Store {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(log, DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr(t time.Time) *time.Time { return &t }

func mustCreate(t *testing.T, s *Store, owner, title string, start *time.Time) model.Task {
	t.Helper()
	task := model.Task{OwnerID: owner, Title: title, StartTime: start, Source: model.SourceManual, Confidence: 1}
	if err := s.CreateTask(context.Background(), &task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return task
}

func TestNew_UnsupportedDriver(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := New(log, "mysql", "x"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestCreateTask(t *testing.T) {
	s := testStore(t)
	start := time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC)

	task := mustCreate(t, s, "alice", "Team sync", &start)
	if task.ID == "" {
		t.Fatal("expected generated id")
	}
	if task.Version != 1 {
		t.Errorf("expected version 1, got %d", task.Version)
	}

	got, err := s.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Title != "Team sync" || got.OwnerID != "alice" {
		t.Errorf("unexpected task %+v", got)
	}
	if got.StartTime == nil || !got.StartTime.Equal(start) {
		t.Errorf("expected start %v, got %v", start, got.StartTime)
	}
	if got.EndTime != nil {
		t.Errorf("expected nil end, got %v", got.EndTime)
	}
	if got.SyncStatus != model.SyncUnsynced {
		t.Errorf("expected unsynced, got %s", got.SyncStatus)
	}
	if got.ExternalEventID != nil {
		t.Errorf("expected no external id, got %v", *got.ExternalEventID)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.GetTask(context.Background(), "missing")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateTask_BumpsVersion(t *testing.T) {
	s := testStore(t)
	task := mustCreate(t, s, "alice", "Write report", nil)

	task.Title = "Write final report"
	if err := s.UpdateTask(context.Background(), &task, 1); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if task.Version != 2 {
		t.Errorf("expected version 2, got %d", task.Version)
	}

	got, _ := s.GetTask(context.Background(), task.ID)
	if got.Version != 2 || got.Title != "Write final report" {
		t.Errorf("unexpected stored task %+v", got)
	}
}

func TestUpdateTask_StaleVersion(t *testing.T) {
	s := testStore(t)
	task := mustCreate(t, s, "alice", "Write report", nil)

	first := task
	if err := s.UpdateTask(context.Background(), &first, 1); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	second := task
	second.Title = "other"
	err := s.UpdateTask(context.Background(), &second, 1)
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestUpdateTask_ConcurrentSameVersion(t *testing.T) {
	s := testStore(t)
	task := mustCreate(t, s, "alice", "Gym", nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			local := task
			local.Title = "Gym session"
			errs[i] = s.UpdateTask(context.Background(), &local, task.Version)
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, model.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != 1 {
		t.Errorf("expected one success and one conflict, got %d/%d", ok, conflicts)
	}
}

func TestDeleteTask(t *testing.T) {
	s := testStore(t)
	task := mustCreate(t, s, "alice", "Dentist", nil)

	if _, err := s.DeleteTask(context.Background(), "alice", task.ID, 5); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale delete, got %v", err)
	}

	version, err := s.DeleteTask(context.Background(), "alice", task.ID, 1)
	if err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if version != 2 {
		t.Errorf("expected deletion version 2, got %d", version)
	}
	if _, err := s.GetTask(context.Background(), task.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	events, err := s.ListEvents(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 || events[0].Op != OpCreate || events[1].Op != OpDelete {
		t.Errorf("unexpected audit trail %+v", events)
	}
}

func TestListTasks_OrderAndRange(t *testing.T) {
	s := testStore(t)
	day := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	mustCreate(t, s, "alice", "Untimed", nil)
	mustCreate(t, s, "alice", "Late", ptr(day.Add(15*time.Hour)))
	mustCreate(t, s, "alice", "Early", ptr(day.Add(9*time.Hour)))
	mustCreate(t, s, "alice", "Next day", ptr(day.Add(33*time.Hour)))
	mustCreate(t, s, "bob", "Not mine", ptr(day.Add(10*time.Hour)))

	all, err := s.ListTasks(context.Background(), "alice", Filter{})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	want := []string{"Early", "Late", "Next day", "Untimed"}
	if len(all) != len(want) {
		t.Fatalf("expected %d tasks, got %d", len(want), len(all))
	}
	for i, title := range want {
		if all[i].Title != title {
			t.Errorf("position %d: expected %q, got %q", i, title, all[i].Title)
		}
	}

	to := day.Add(24 * time.Hour)
	ranged, err := s.ListTasks(context.Background(), "alice", Filter{From: &day, To: &to})
	if err != nil {
		t.Fatalf("ListTasks range: %v", err)
	}
	if len(ranged) != 2 {
		t.Errorf("expected 2 tasks in range, got %d", len(ranged))
	}
}

func TestFindByTitle_Normalized(t *testing.T) {
	s := testStore(t)
	mustCreate(t, s, "alice", "Team   Sync", nil)
	mustCreate(t, s, "bob", "team sync", nil)

	found, err := s.FindByTitle(context.Background(), "alice", "  TEAM sync ")
	if err != nil {
		t.Fatalf("FindByTitle: %v", err)
	}
	if len(found) != 1 || found[0].OwnerID != "alice" {
		t.Errorf("expected alice's task only, got %+v", found)
	}
}

func TestWithTx_RollsBack(t *testing.T) {
	s := testStore(t)
	boom := errors.New("boom")

	err := s.WithTx(context.Background(), func(tx *Store) error {
		task := model.Task{OwnerID: "alice", Title: "Ghost", Source: model.SourcePDF}
		if err := tx.CreateTask(context.Background(), &task); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	tasks, _ := s.ListTasks(context.Background(), "alice", Filter{})
	if len(tasks) != 0 {
		t.Errorf("expected rollback, found %d tasks", len(tasks))
	}
}

func TestSyncState_Lifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	task := mustCreate(t, s, "alice", "Standup", nil)

	if _, err := s.GetSyncState(ctx, task.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.MarkSyncPending(ctx, "alice", task.ID); err != nil {
		t.Fatalf("MarkSyncPending: %v", err)
	}
	got, _ := s.GetTask(ctx, task.ID)
	if got.SyncStatus != model.SyncPending {
		t.Errorf("expected pending, got %s", got.SyncStatus)
	}

	eventID := "evt-1"
	st := SyncState{TaskID: task.ID, OwnerID: "alice", ExternalEventID: &eventID, PushedVersion: 1, Status: model.SyncSynced}
	if err := s.PutSyncState(ctx, st); err != nil {
		t.Fatalf("PutSyncState: %v", err)
	}
	got, _ = s.GetTask(ctx, task.ID)
	if got.ExternalEventID == nil || *got.ExternalEventID != eventID {
		t.Errorf("expected external id %s, got %v", eventID, got.ExternalEventID)
	}
	if got.Version != 1 {
		t.Errorf("sync mapping must not bump version, got %d", got.Version)
	}

	other := mustCreate(t, s, "alice", "Other", nil)
	dup := SyncState{TaskID: other.ID, OwnerID: "alice", ExternalEventID: &eventID, Status: model.SyncSynced}
	if err := s.PutSyncState(ctx, dup); !errors.Is(err, model.ErrConflict) {
		t.Errorf("expected ErrConflict for shared external id, got %v", err)
	}

	if err := s.DeleteSyncState(ctx, task.ID); err != nil {
		t.Fatalf("DeleteSyncState: %v", err)
	}
	if _, err := s.GetSyncState(ctx, task.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected mapping removed, got %v", err)
	}
}

func TestPutSyncState_KeepsNewerEditPending(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	task := mustCreate(t, s, "alice", "Standup", ptr(time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)))
	if err := s.MarkSyncPending(ctx, "alice", task.ID); err != nil {
		t.Fatalf("MarkSyncPending: %v", err)
	}
	if err := s.UpdateTask(ctx, &task, 1); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	eventID := "evt-1"
	for _, status := range []model.SyncStatus{model.SyncSynced, model.SyncFailed, model.SyncUnsynced} {
		st := SyncState{TaskID: task.ID, OwnerID: "alice", ExternalEventID: &eventID, PushedVersion: 1, Status: status}
		if err := s.PutSyncState(ctx, st); err != nil {
			t.Fatalf("PutSyncState(%s): %v", status, err)
		}
		got, _ := s.GetSyncState(ctx, task.ID)
		if got.Status != model.SyncPending || got.PushedVersion != 1 {
			t.Errorf("%s write of version 1 over pending version 2: got %+v", status, got)
		}
	}

	st := SyncState{TaskID: task.ID, OwnerID: "alice", ExternalEventID: &eventID, PushedVersion: 1, TaskVersion: 2, Status: model.SyncFailed}
	if err := s.PutSyncState(ctx, st); err != nil {
		t.Fatalf("PutSyncState: %v", err)
	}
	if got, _ := s.GetSyncState(ctx, task.ID); got.Status != model.SyncFailed {
		t.Errorf("expected a failure of the current version recorded, got %s", got.Status)
	}

	st = SyncState{TaskID: task.ID, OwnerID: "alice", ExternalEventID: &eventID, PushedVersion: 2, Status: model.SyncSynced}
	if err := s.PutSyncState(ctx, st); err != nil {
		t.Fatalf("PutSyncState: %v", err)
	}
	got, _ := s.GetTask(ctx, task.ID)
	if got.SyncStatus != model.SyncSynced || got.PushedVersion != 2 {
		t.Errorf("expected synced at version 2, got %s at %d", got.SyncStatus, got.PushedVersion)
	}
}

func TestTokens_KeepRefreshToken(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.LoadToken(ctx, "alice"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	exp := time.Now().Add(time.Hour)
	if err := s.SaveToken(ctx, UserToken{OwnerID: "alice", AccessToken: "a1", RefreshToken: "r1", Expiry: &exp}); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	if err := s.SaveToken(ctx, UserToken{OwnerID: "alice", AccessToken: "a2"}); err != nil {
		t.Fatalf("SaveToken refresh: %v", err)
	}

	tok, err := s.LoadToken(ctx, "alice")
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if tok.AccessToken != "a2" || tok.RefreshToken != "r1" {
		t.Errorf("unexpected token %+v", tok)
	}
}

func TestListSyncStates(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	a := mustCreate(t, s, "alice", "A", nil)
	b := mustCreate(t, s, "alice", "B", nil)
	c := mustCreate(t, s, "bob", "C", nil)

	for _, id := range []string{a.ID, c.ID} {
		owner := "alice"
		if id == c.ID {
			owner = "bob"
		}
		if err := s.MarkSyncPending(ctx, owner, id); err != nil {
			t.Fatalf("MarkSyncPending: %v", err)
		}
	}
	if err := s.PutSyncState(ctx, SyncState{TaskID: b.ID, OwnerID: "alice", Status: model.SyncFailed, LastError: "boom"}); err != nil {
		t.Fatalf("PutSyncState: %v", err)
	}

	pending, err := s.ListSyncStates(ctx, "", model.SyncPending)
	if err != nil {
		t.Fatalf("ListSyncStates: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("expected 2 pending rows, got %d", len(pending))
	}

	alice, err := s.ListSyncStates(ctx, "alice", model.SyncPending, model.SyncFailed)
	if err != nil {
		t.Fatalf("ListSyncStates: %v", err)
	}
	if len(alice) != 2 {
		t.Errorf("expected 2 rows for alice, got %d", len(alice))
	}
}
