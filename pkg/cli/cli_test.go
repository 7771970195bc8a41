package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harrisonrobin/chronos/pkg/config"
	"github.com/harrisonrobin/chronos/pkg/ingest"
	"github.com/harrisonrobin/chronos/pkg/model"
)

func setupConfig(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("GOOGLE_CLIENT_ID", "")
	t.Setenv("GOOGLE_CLIENT_SECRET", "")
	t.Setenv("GOOGLE_CREDENTIALS_FILE", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "log_level: ERROR\ndb:\n  driver: sqlite\n  dsn: " + filepath.Join(dir, "chronos.db") + "\n"
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, path string, args ...string) (string, error) {
	t.Helper()
	ownerID = "local"
	submitFile = ""
	resyncAll = false
	tasksFrom, tasksTo = "", ""
	tasksVersion = 0

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append([]string{"--config", path}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSubmitThenList(t *testing.T) {
	path := setupConfig(t)

	out, err := execute(t, path, "submit", "--owner", "alice", "Team sync tomorrow 10am")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.Contains(out, "Team sync") || !strings.Contains(out, "pending") {
		t.Errorf("unexpected submit output:\n%s", out)
	}

	out, err = execute(t, path, "tasks", "list", "--owner", "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "Team sync") {
		t.Errorf("expected task in listing:\n%s", out)
	}

	out, err = execute(t, path, "tasks", "list", "--owner", "bob")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "No tasks.") {
		t.Errorf("expected bob to see nothing:\n%s", out)
	}
}

func TestTasksHistory(t *testing.T) {
	path := setupConfig(t)

	if _, err := execute(t, path, "submit", "--owner", "alice", "Team sync tomorrow 10am"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	a := openTestApp(t, path)
	tasks, err := a.tasks.Query(context.Background(), model.Identity{OwnerID: "alice"}, ingest.Filter{})
	if err != nil || len(tasks) != 1 {
		t.Fatalf("expected one task, got %d (%v)", len(tasks), err)
	}
	a.close()

	out, err := execute(t, path, "tasks", "history", "--owner", "alice", tasks[0].ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "VERSION") || !strings.Contains(out, "v1") || !strings.Contains(out, "create") {
		t.Errorf("unexpected history output:\n%s", out)
	}

	if _, err := execute(t, path, "tasks", "history", "--owner", "bob", tasks[0].ID); !errors.Is(err, model.ErrForbidden) {
		t.Errorf("expected ErrForbidden for another owner, got %v", err)
	}
}

func openTestApp(t *testing.T, path string) *app {
	t.Helper()
	cfgPath = path
	a, err := openApp()
	if err != nil {
		t.Fatalf("openApp: %v", err)
	}
	return a
}

func TestSubmitDocument(t *testing.T) {
	path := setupConfig(t)
	doc := filepath.Join(t.TempDir(), "schedule.txt")
	if err := os.WriteFile(doc, []byte("Course: Algorithms, Day: Monday, Time: 09:00-10:40\nCourse: Databases; Day: Friday; Time: 14:00\n"), 0600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, path, "submit", "--file", doc)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.Contains(out, "Algorithms") || !strings.Contains(out, "Databases") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestSubmit_NothingToSubmit(t *testing.T) {
	path := setupConfig(t)
	if _, err := execute(t, path, "submit"); err == nil {
		t.Fatal("expected error without text or file")
	}
}

func TestResync_RequiresCredentials(t *testing.T) {
	path := setupConfig(t)
	_, err := execute(t, path, "resync", "--all")
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("expected credentials error, got %v", err)
	}

	if _, err := execute(t, path, "resync"); err == nil {
		t.Fatal("expected error without a task id or --all")
	}
}

func TestConfigSetCalendar(t *testing.T) {
	path := setupConfig(t)

	out, err := execute(t, path, "config", "set-calendar", "Work")
	if err != nil {
		t.Fatalf("set-calendar: %v", err)
	}
	if !strings.Contains(out, "google.calendar set to Work") {
		t.Errorf("unexpected output %q", out)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Google.Calendar != "Work" {
		t.Errorf("expected Work, got %q", cfg.Google.Calendar)
	}
	if cfg.LogLevel != "ERROR" {
		t.Errorf("expected other keys kept, got log level %q", cfg.LogLevel)
	}
}

func TestRenderTasks(t *testing.T) {
	start := time.Date(2024, 6, 14, 15, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	var buf bytes.Buffer
	renderTasks(&buf, []model.Task{
		{ID: "t1", Title: "Dentist", StartTime: &start, EndTime: &end, SyncStatus: model.SyncSynced},
		{ID: "t2", Title: "Buy milk", SyncStatus: model.SyncUnsynced},
	}, time.UTC)

	out := buf.String()
	for _, want := range []string{"WHEN", "Fri Jun 14 15:00-16:00", "Dentist", "synced", "t1", "Buy milk", "t2"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}

	buf.Reset()
	renderTasks(&buf, nil, time.UTC)
	if !strings.Contains(buf.String(), "No tasks.") {
		t.Errorf("unexpected empty output %q", buf.String())
	}
}

func TestFormatWhen(t *testing.T) {
	start := time.Date(2024, 6, 14, 15, 0, 0, 0, time.UTC)
	jakarta := time.FixedZone("WIB", 7*3600)

	tests := []struct {
		name string
		task model.Task
		loc  *time.Location
		want string
	}{
		{"untimed", model.Task{}, time.UTC, "-"},
		{"inferred", model.Task{StartTime: &start, TimeInferred: true}, time.UTC, "Fri Jun 14 15:00?"},
		{"local zone", model.Task{StartTime: &start}, jakarta, "Fri Jun 14 22:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatWhen(tt.task, tt.loc); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncate("a rather long title", 8); got != "a rathe…" {
		t.Errorf("got %q", got)
	}
}

func TestSubmitOrgFile(t *testing.T) {
	path := setupConfig(t)
	doc := filepath.Join(t.TempDir(), "week.org")
	if err := os.WriteFile(doc, []byte("* TODO Renew passport\n  DEADLINE: <2030-01-15 Tue>\n* DONE Old thing\n"), 0600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, path, "submit", "--file", doc)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.Contains(out, "Renew passport") || strings.Contains(out, "Old thing") {
		t.Errorf("unexpected output:\n%s", out)
	}
}
