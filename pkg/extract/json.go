package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/harrisonrobin/chronos/pkg/model"
)

// Timestamp keeps the raw text of a time field; zone-less values are resolved
// later against the adapter's location.
type Timestamp struct {
	raw string
}

var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

const dateLayout = "2006-01-02"

// UnmarshalJSON implements the json.Unmarshaler interface for Timestamp.
func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		ts.raw = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	ts.raw = strings.TrimSpace(s)
	return nil
}

// Resolve parses the timestamp. dateOnly is set for a bare YYYY-MM-DD value.
func (ts Timestamp) Resolve(loc *time.Location) (t time.Time, dateOnly bool, err error) {
	if t, err := time.Parse(time.RFC3339, ts.raw); err == nil {
		return t, false, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, ts.raw, loc); err == nil {
			return t, false, nil
		}
	}
	if t, err := time.ParseInLocation(dateLayout, ts.raw, loc); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, fmt.Errorf("%w: unrecognized time %q", model.ErrInvalidInput, ts.raw)
}

func (ts *Timestamp) empty() bool {
	return ts == nil || ts.raw == ""
}

type entry struct {
	Title      string     `json:"title"`
	StartTime  *Timestamp `json:"start_time"`
	EndTime    *Timestamp `json:"end_time"`
	Date       string     `json:"date"`
	Time       string     `json:"time"`
	Confidence *float64   `json:"confidence"`
}

type envelope struct {
	Tasks []entry `json:"tasks"`
}

const confidenceModelDefault = 0.7

// JSONAdapter reads drafts from model output: a JSON array of entries, an
// object with a "tasks" array, or a stream of entry objects. Markdown code
// fences around the payload are ignored.
type JSONAdapter struct {
	Clock
	Source model.Source
}

func NewJSONAdapter(c Clock, source model.Source) *JSONAdapter {
	return &JSONAdapter{Clock: c, Source: source}
}

func (a *JSONAdapter) Extract(ctx context.Context, raw []byte) iter.Seq2[model.Draft, error] {
	entries, err := decodeEntries(stripFences(raw))
	if err != nil {
		return failed(err)
	}

	return func(yield func(model.Draft, error) bool) {
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				yield(model.Draft{}, err)
				return
			}
			if strings.TrimSpace(e.Title) == "" {
				continue
			}
			d, err := a.draft(e)
			if !yield(d, err) || err != nil {
				return
			}
		}
	}
}

func (a *JSONAdapter) draft(e entry) (model.Draft, error) {
	now := a.CurrentTime()
	loc := a.TimeZone()
	d := model.Draft{
		Title:      strings.TrimSpace(e.Title),
		Source:     a.Source,
		Confidence: confidenceModelDefault,
	}
	if e.Confidence != nil {
		d.Confidence = *e.Confidence
	}

	if e.StartTime.empty() {
		if e.Date == "" && e.Time == "" {
			if !e.EndTime.empty() {
				return model.Draft{}, fmt.Errorf("%w: %q has end_time without start_time", model.ErrInvalidInput, d.Title)
			}
			return d, nil
		}
		w := ParseWhen(strings.TrimSpace(e.Date+" "+e.Time), now, loc)
		d.StartTime, d.EndTime, d.Inferred = w.Window(now, a.Duration())
		if d.StartTime != nil && d.EndTime == nil {
			end := d.StartTime.Add(a.Duration())
			d.EndTime, d.Inferred = &end, true
		}
		return d, nil
	}

	start, dateOnly, err := e.StartTime.Resolve(loc)
	if err != nil {
		return model.Draft{}, err
	}
	if dateOnly {
		start = start.Add(9 * time.Hour)
		d.Inferred = true
	}
	d.StartTime = &start

	if e.EndTime.empty() {
		end := start.Add(a.Duration())
		d.EndTime, d.Inferred = &end, true
		return d, nil
	}
	end, _, err := e.EndTime.Resolve(loc)
	if err != nil {
		return model.Draft{}, err
	}
	d.EndTime = &end
	return d, nil
}

func stripFences(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return []byte(strings.TrimSpace(s))
}

func decodeEntries(b []byte) ([]entry, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if b[0] == '[' {
		var entries []entry
		if err := json.Unmarshal(b, &entries); err != nil {
			return nil, fmt.Errorf("%w: decode entries: %v", model.ErrInvalidInput, err)
		}
		return entries, nil
	}

	var entries []entry
	decoder := json.NewDecoder(bytes.NewReader(b))
	for {
		var obj map[string]json.RawMessage
		if err := decoder.Decode(&obj); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: decode entry: %v", model.ErrInvalidInput, err)
		}
		if _, ok := obj["tasks"]; ok {
			var env envelope
			if err := remarshal(obj, &env); err != nil {
				return nil, err
			}
			entries = append(entries, env.Tasks...)
			continue
		}
		var e entry
		if err := remarshal(obj, &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func remarshal(obj map[string]json.RawMessage, v any) error {
	b, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: decode entry: %v", model.ErrInvalidInput, err)
	}
	return nil
}
