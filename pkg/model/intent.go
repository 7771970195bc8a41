package model

import (
	"fmt"
	"time"
)

// IntentKind is the action an agent command maps to.
type IntentKind string

const (
	IntentCreate IntentKind = "create"
	IntentUpdate IntentKind = "update"
	IntentDelete IntentKind = "delete"
	IntentQuery  IntentKind = "query"
)

// Destructive reports whether the intent changes or removes an existing task.
func (k IntentKind) Destructive() bool {
	return k == IntentUpdate || k == IntentDelete
}

// IntentPayload carries the fields an intent applies or filters by.
type IntentPayload struct {
	Title     *string    `json:"title,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	// Inferred marks a window the user did not state, such as a day with no
	// time.
	Inferred bool `json:"inferred,omitempty"`
	// Version is the version the caller read; zero means "the current one".
	Version int64      `json:"version,omitempty"`
	From    *time.Time `json:"from,omitempty"`
	To      *time.Time `json:"to,omitempty"`
}

// Intent is a single structured command produced by the interpreter.
type Intent struct {
	Kind         IntentKind    `json:"kind"`
	TargetTaskID string        `json:"target_task_id,omitempty"`
	Payload      IntentPayload `json:"payload"`
	Confidence   float64       `json:"confidence"`
}

func (Intent) isInput() {}

// Validate checks the intent shape before it reaches the store.
func (in Intent) Validate() error {
	switch in.Kind {
	case IntentCreate, IntentQuery:
	case IntentUpdate, IntentDelete:
		if in.TargetTaskID == "" {
			return fmt.Errorf("%w: %s requires target_task_id", ErrInvalidInput, in.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown intent kind %q", ErrInvalidInput, in.Kind)
	}
	return nil
}

// Input is anything the orchestrator accepts: a Draft or an Intent.
type Input interface {
	isInput()
}
