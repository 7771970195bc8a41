package extract

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"iter"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/harrisonrobin/chronos/pkg/model"
)

// TextExtractor pulls plain text out of a document.
type TextExtractor interface {
	ExtractText(ctx context.Context, doc []byte) (string, error)
}

// PlainText accepts documents that are already UTF-8 text.
type PlainText struct{}

func (PlainText) ExtractText(_ context.Context, doc []byte) (string, error) {
	if bytes.HasPrefix(doc, []byte("%PDF")) {
		return "", fmt.Errorf("%w: binary document requires a document extractor", model.ErrInvalidInput)
	}
	if !utf8.Valid(doc) {
		return "", fmt.Errorf("%w: document is not UTF-8 text", model.ErrInvalidInput)
	}
	return string(doc), nil
}

var scheduleLineRegex = regexp.MustCompile(`(?i)^(?:mata\s*kuliah|course|subject|class)\s*:\s*(.+?)\s*[,;|]\s*(?:hari|day)\s*:\s*(.+?)\s*[,;|]\s*(?:jam|waktu|time)\s*:\s*(.+?)\s*$`)

const (
	confidenceScheduleTimed = 0.85
	confidenceScheduleDay   = 0.6
	confidenceScheduleBare  = 0.5
)

// ScheduleAdapter reads class schedules out of documents, one entry per line
// of the form "Course: X, Day: Y, Time: HH:MM-HH:MM". Lines that do not look
// like schedule entries are ignored.
type ScheduleAdapter struct {
	Clock
	Text TextExtractor
}

func NewScheduleAdapter(c Clock, text TextExtractor) *ScheduleAdapter {
	if text == nil {
		text = PlainText{}
	}
	return &ScheduleAdapter{Clock: c, Text: text}
}

func (a *ScheduleAdapter) Extract(ctx context.Context, raw []byte) iter.Seq2[model.Draft, error] {
	text, err := a.Text.ExtractText(ctx, raw)
	if err != nil {
		return failed(err)
	}

	return func(yield func(model.Draft, error) bool) {
		scanner := bufio.NewScanner(strings.NewReader(text))
		for scanner.Scan() {
			if err := ctx.Err(); err != nil {
				yield(model.Draft{}, err)
				return
			}
			line := strings.TrimSpace(scanner.Text())
			matches := scheduleLineRegex.FindStringSubmatch(line)
			if matches == nil {
				continue
			}
			if !yield(a.entry(matches[1], matches[2], matches[3]), nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(model.Draft{}, fmt.Errorf("read document: %w", err))
		}
	}
}

func (a *ScheduleAdapter) entry(title, day, at string) model.Draft {
	now := a.CurrentTime()
	d := model.Draft{Title: strings.TrimSpace(title), Source: model.SourcePDF, Confidence: confidenceScheduleBare}

	w := ParseWhen(day+" "+at, now, a.TimeZone())
	if w.Date == nil {
		return d
	}
	d.StartTime, d.EndTime, d.Inferred = w.Window(now, a.Duration())
	if w.HasTime() {
		d.Confidence = confidenceScheduleTimed
	} else {
		d.Confidence = confidenceScheduleDay
	}
	return d
}
