package server

import (
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/harrisonrobin/chronos/pkg/model"
)

type draftPayload struct {
	Title      string     `json:"title"`
	StartTime  *time.Time `json:"start_time"`
	EndTime    *time.Time `json:"end_time"`
	Confidence *float64   `json:"confidence"`
	Source     string     `json:"source"`
}

// draftsRequest is either a single draft or {"drafts": [...]}.
type draftsRequest struct {
	draftPayload
	Drafts []draftPayload `json:"drafts"`
}

// toDraft converts the payload. A draft without a source is manual entry
// and a missing confidence is full confidence.
func (p draftPayload) toDraft() (model.Draft, error) {
	d := model.Draft{
		Title:      p.Title,
		StartTime:  p.StartTime,
		EndTime:    p.EndTime,
		Source:     model.SourceManual,
		Confidence: 1,
	}
	if p.Source != "" {
		src, err := model.ParseSource(p.Source)
		if err != nil {
			return model.Draft{}, err
		}
		d.Source = src
	}
	if p.Confidence != nil {
		d.Confidence = *p.Confidence
	}
	if err := d.Validate(); err != nil {
		return model.Draft{}, err
	}
	return d, nil
}

func draftSeq(payloads []draftPayload) iter.Seq2[model.Draft, error] {
	return func(yield func(model.Draft, error) bool) {
		for _, p := range payloads {
			d, err := p.toDraft()
			if !yield(d, err) || err != nil {
				return
			}
		}
	}
}

type textRequest struct {
	Text string `json:"text" binding:"required"`
}

type patchRequest struct {
	Version   int64      `json:"version" binding:"required,gt=0"`
	Title     *string    `json:"title"`
	StartTime *time.Time `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	ClearTime bool       `json:"clear_time"`
}

type agentResponse struct {
	Intent model.Intent `json:"intent"`
	Result any          `json:"result"`
}

// parseTime accepts RFC 3339 or a bare date, read in loc.
func parseTime(s string, loc *time.Location) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid time %q", model.ErrInvalidInput, s)
	}
	return &t, nil
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	// Bare numbers are minutes.
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Minute, nil
	}
	return 0, fmt.Errorf("%w: invalid duration %q", model.ErrInvalidInput, s)
}

func parseVersion(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: version must be a positive integer", model.ErrInvalidInput)
	}
	return v, nil
}
