// Package calsync keeps the external calendar consistent with the task store.
package calsync

import (
	"context"
	"errors"
	"time"

	"github.com/harrisonrobin/chronos/pkg/model"
)

// ErrEventGone is returned by a Calendar when the remote event no longer exists.
var ErrEventGone = errors.New("calendar event gone")

// Event is the calendar projection of a task.
type Event struct {
	TaskID   string
	Title    string
	Start    time.Time
	End      time.Time
	Source   model.Source
	Inferred bool
}

// Calendar is an owner's external calendar. Implementations report retryable
// failures as model.ErrTransient and missing events as ErrEventGone.
type Calendar interface {
	// CreateEvent returns the id of the event carrying ev.TaskID, creating it
	// only if no such event exists yet.
	CreateEvent(ctx context.Context, ownerID string, ev Event) (string, error)
	UpdateEvent(ctx context.Context, ownerID, eventID string, ev Event) error
	DeleteEvent(ctx context.Context, ownerID, eventID string) error
}

// EventFor projects t, filling a missing end with def. ok is false for a
// task without a start time.
func EventFor(t model.Task, def time.Duration) (Event, bool) {
	start, end, ok := t.Window(def)
	if !ok {
		return Event{}, false
	}
	return Event{
		TaskID:   t.ID,
		Title:    t.Title,
		Start:    start,
		End:      end,
		Source:   t.Source,
		Inferred: t.TimeInferred,
	}, true
}
