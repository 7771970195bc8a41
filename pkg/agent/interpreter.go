// Package agent turns a conversational command into one structured intent.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/harrisonrobin/chronos/pkg/model"
)

// Classification is what a classifier understood from a command.
type Classification struct {
	Kind        model.IntentKind    `json:"kind"`
	Confidence  float64             `json:"confidence"`
	TargetID    string              `json:"target_id,omitempty"`
	TargetTitle string              `json:"target_title,omitempty"`
	Payload     model.IntentPayload `json:"payload"`
}

// Classifier does the language understanding.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// TaskFinder resolves a task referenced by title. It is read-only.
type TaskFinder interface {
	FindByTitle(ctx context.Context, ownerID, title string) ([]model.Task, error)
}

type Thresholds struct {
	// Min is required for any intent.
	Min float64
	// Destructive is required for update and delete.
	Destructive float64
}

type Interpreter struct {
	classifier Classifier
	finder     TaskFinder
	thresholds Thresholds
}

func NewInterpreter(c Classifier, finder TaskFinder, th Thresholds) *Interpreter {
	return &Interpreter{classifier: c, finder: finder, thresholds: th}
}

// Interpret maps text to exactly one intent for ownerID. Low confidence,
// or a title matching several tasks, yields model.ErrAmbiguous.
func (in *Interpreter) Interpret(ctx context.Context, ownerID, text string) (model.Intent, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Intent{}, fmt.Errorf("%w: empty command", model.ErrInvalidInput)
	}

	c, err := in.classifier.Classify(ctx, text)
	if err != nil {
		return model.Intent{}, err
	}

	switch {
	case c.Confidence < in.thresholds.Min:
		return model.Intent{}, fmt.Errorf("%w: %s intent at confidence %.2f", model.ErrAmbiguous, c.Kind, c.Confidence)
	case c.Kind.Destructive() && c.Confidence < in.thresholds.Destructive:
		return model.Intent{}, fmt.Errorf("%w: %s needs confidence %.2f, got %.2f", model.ErrAmbiguous, c.Kind, in.thresholds.Destructive, c.Confidence)
	}

	intent := model.Intent{
		Kind:         c.Kind,
		TargetTaskID: c.TargetID,
		Payload:      c.Payload,
		Confidence:   c.Confidence,
	}

	if c.Kind.Destructive() && intent.TargetTaskID == "" {
		id, err := in.resolve(ctx, ownerID, c.TargetTitle)
		if err != nil {
			return model.Intent{}, err
		}
		intent.TargetTaskID = id
	}
	if c.Kind == model.IntentCreate && (c.Payload.Title == nil || strings.TrimSpace(*c.Payload.Title) == "") {
		return model.Intent{}, fmt.Errorf("%w: nothing to create", model.ErrInvalidInput)
	}

	if err := intent.Validate(); err != nil {
		return model.Intent{}, err
	}
	return intent, nil
}

func (in *Interpreter) resolve(ctx context.Context, ownerID, title string) (string, error) {
	if strings.TrimSpace(title) == "" {
		return "", fmt.Errorf("%w: no task named", model.ErrAmbiguous)
	}
	tasks, err := in.finder.FindByTitle(ctx, ownerID, title)
	if err != nil {
		return "", err
	}
	switch len(tasks) {
	case 0:
		return "", fmt.Errorf("task %q: %w", title, model.ErrNotFound)
	case 1:
		return tasks[0].ID, nil
	default:
		return "", fmt.Errorf("%w: %d tasks named %q", model.ErrAmbiguous, len(tasks), title)
	}
}
