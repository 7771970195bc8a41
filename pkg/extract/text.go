package extract

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/harrisonrobin/chronos/pkg/model"
)

const (
	confidenceDateTime = 0.9
	confidenceTimeOnly = 0.8
	confidenceDateOnly = 0.6
	confidenceUntimed  = 0.4
)

// TextAdapter reads one task per non-empty line of free text, recognizing the
// date and time phrases it knows and keeping the rest as the title.
type TextAdapter struct {
	Clock
}

func NewTextAdapter(c Clock) *TextAdapter {
	return &TextAdapter{Clock: c}
}

func (a *TextAdapter) Extract(ctx context.Context, raw []byte) iter.Seq2[model.Draft, error] {
	return func(yield func(model.Draft, error) bool) {
		scanner := bufio.NewScanner(bytes.NewReader(raw))
		for scanner.Scan() {
			if err := ctx.Err(); err != nil {
				yield(model.Draft{}, err)
				return
			}
			line := strings.TrimSpace(scanner.Text())
			line = strings.TrimLeft(line, "-*• ")
			if line == "" {
				continue
			}
			d, ok := a.parseLine(line)
			if !ok {
				continue
			}
			if !yield(d, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(model.Draft{}, fmt.Errorf("read text: %w", err))
		}
	}
}

func (a *TextAdapter) parseLine(line string) (model.Draft, bool) {
	now := a.CurrentTime()
	w := ParseWhen(line, now, a.TimeZone())
	if w.Rest == "" {
		return model.Draft{}, false
	}

	d := model.Draft{Title: w.Rest, Source: model.SourceNLP}
	d.StartTime, d.EndTime, d.Inferred = w.Window(now, a.Duration())

	switch {
	case w.Date != nil && w.HasTime():
		d.Confidence = confidenceDateTime
	case w.HasTime():
		d.Confidence = confidenceTimeOnly
	case w.Date != nil:
		d.Confidence = confidenceDateOnly
	default:
		d.Confidence = confidenceUntimed
	}
	return d, true
}
