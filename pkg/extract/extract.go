// Package extract turns raw captured input (free text, schedule documents,
// model output) into candidate drafts.
package extract

import (
	"context"
	"iter"
	"time"

	"github.com/harrisonrobin/chronos/pkg/model"
)

// Adapter produces drafts from raw input. The sequence is lazy; a consumer
// that stops early stops the extraction.
type Adapter interface {
	Extract(ctx context.Context, raw []byte) iter.Seq2[model.Draft, error]
}

// Clock settings shared by every adapter.
type Clock struct {
	Now             func() time.Time
	Location        *time.Location
	DefaultDuration time.Duration
}

func (c Clock) CurrentTime() time.Time {
	if c.Now != nil {
		return c.Now().In(c.TimeZone())
	}
	return time.Now().In(c.TimeZone())
}

func (c Clock) TimeZone() *time.Location {
	if c.Location != nil {
		return c.Location
	}
	return time.UTC
}

func (c Clock) Duration() time.Duration {
	if c.DefaultDuration > 0 {
		return c.DefaultDuration
	}
	return time.Hour
}

// Collect drains seq, stopping at the first error.
func Collect(seq iter.Seq2[model.Draft, error]) ([]model.Draft, error) {
	var out []model.Draft
	for d, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func failed(err error) iter.Seq2[model.Draft, error] {
	return func(yield func(model.Draft, error) bool) {
		yield(model.Draft{}, err)
	}
}
