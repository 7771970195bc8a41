package model

import (
	"fmt"
	"strings"
	"time"
)

// Draft is a candidate task produced by an extraction adapter. It is never
// persisted as-is.
type Draft struct {
	Title      string     `json:"title"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Confidence float64    `json:"confidence"`
	Source     Source     `json:"source"`
	// Inferred is set when the adapter assumed the time window instead of
	// reading it from the input.
	Inferred bool `json:"inferred,omitempty"`
}

func (Draft) isInput() {}

// Validate trims the title and checks field constraints.
func (d *Draft) Validate() error {
	d.Title = strings.TrimSpace(d.Title)
	if d.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.2f out of range", ErrInvalidInput, d.Confidence)
	}
	if !d.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidInput, d.Source)
	}
	return ValidateWindow(d.StartTime, d.EndTime)
}

// ValidateWindow enforces start < end when both are set and forbids an end
// without a start.
func ValidateWindow(start, end *time.Time) error {
	if start == nil && end != nil {
		return fmt.Errorf("%w: end_time without start_time", ErrInvalidInput)
	}
	if start != nil && end != nil && !start.Before(*end) {
		return fmt.Errorf("%w: start_time must be before end_time", ErrInvalidInput)
	}
	return nil
}
