package model

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Source is where a task was captured from.
type Source string

const (
	SourceManual Source = "manual"
	SourceNLP    Source = "nlp"
	SourcePDF    Source = "pdf"
	SourceAgent  Source = "agent"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceNLP, SourcePDF, SourceAgent:
		return true
	}
	return false
}

// ParseSource parses a source name as sent over the wire.
func ParseSource(s string) (Source, error) {
	src := Source(s)
	if !src.Valid() {
		return "", fmt.Errorf("%w: unknown source %q", ErrInvalidInput, s)
	}
	return src, nil
}

// SyncStatus is the calendar projection state of a task.
type SyncStatus string

const (
	SyncUnsynced SyncStatus = "unsynced"
	SyncPending  SyncStatus = "pending"
	SyncSynced   SyncStatus = "synced"
	SyncFailed   SyncStatus = "sync_failed"
)

// Task is the canonical record for a schedule item.
type Task struct {
	ID           string     `json:"id" db:"id"`
	OwnerID      string     `json:"owner_id" db:"owner_id"`
	Title        string     `json:"title" db:"title"`
	StartTime    *time.Time `json:"start_time,omitempty" db:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty" db:"end_time"`
	Source       Source     `json:"source" db:"source"`
	Confidence   float64    `json:"confidence" db:"confidence"`
	TimeInferred bool       `json:"time_inferred" db:"time_inferred"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	Version      int64      `json:"version" db:"version"`

	// Read from the sync mapping, never written through the task row.
	ExternalEventID *string    `json:"external_event_id,omitempty" db:"external_event_id"`
	SyncStatus      SyncStatus `json:"sync_status" db:"sync_status"`
	PushedVersion   int64      `json:"-" db:"pushed_version"`
}

// HasWindow reports whether the task can be projected onto a calendar.
func (t *Task) HasWindow() bool {
	return t.StartTime != nil && !t.StartTime.IsZero()
}

// Window returns the task's start and end, filling a missing end with def.
func (t *Task) Window(def time.Duration) (time.Time, time.Time, bool) {
	if !t.HasWindow() {
		return time.Time{}, time.Time{}, false
	}
	start := *t.StartTime
	if t.EndTime != nil && !t.EndTime.IsZero() {
		return start, *t.EndTime, true
	}
	return start, start.Add(def), true
}

// Identity is the request-scoped caller every orchestrator call acts for.
type Identity struct {
	OwnerID string
}

// Validate rejects an empty identity.
func (id Identity) Validate() error {
	if id.OwnerID == "" {
		return fmt.Errorf("%w: missing owner", ErrInvalidInput)
	}
	return nil
}

// NormalizeTitle folds case and collapses whitespace so that titles captured
// by different channels compare equal.
func NormalizeTitle(title string) string {
	return cases.Fold().String(strings.Join(strings.Fields(title), " "))
}
