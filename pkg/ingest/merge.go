package ingest

import (
	"math"
	"time"

	"github.com/harrisonrobin/chronos/pkg/model"
)

// pickCandidate returns the task a draft duplicates, if any. A candidate has
// the same normalized title (guaranteed by the lookup) and either a start
// within window of the draft's or no start on one side. Ties go to the
// closest start, then the oldest task.
func pickCandidate(candidates []model.Task, d model.Draft, window time.Duration) (model.Task, bool) {
	best := -1
	var bestDist time.Duration
	for i, c := range candidates {
		dist, ok := startDistance(c.StartTime, d.StartTime, window)
		if !ok {
			continue
		}
		if best < 0 || dist < bestDist || (dist == bestDist && c.CreatedAt.Before(candidates[best].CreatedAt)) {
			best, bestDist = i, dist
		}
	}
	if best < 0 {
		return model.Task{}, false
	}
	return candidates[best], true
}

func startDistance(a, b *time.Time, window time.Duration) (time.Duration, bool) {
	if a == nil || b == nil {
		return math.MaxInt64, true
	}
	dist := a.Sub(*b)
	if dist < 0 {
		dist = -dist
	}
	return dist, dist <= window
}

// merge folds d into t and reports whether any field changed. The title
// follows the strictly more confident source. A stated window beats an
// inferred one; between equals the narrower wins, an open end counting as
// wider than any end. A missing window is filled from the other side.
func merge(t model.Task, d model.Draft) (model.Task, bool) {
	out := t
	if d.Confidence > t.Confidence {
		out.Title = d.Title
		out.Confidence = d.Confidence
	}

	if takeWindow(t, d) {
		out.StartTime = d.StartTime
		out.EndTime = d.EndTime
		out.TimeInferred = d.Inferred
	}

	changed := out.Title != t.Title ||
		out.Confidence != t.Confidence ||
		out.TimeInferred != t.TimeInferred ||
		!sameTime(out.StartTime, t.StartTime) ||
		!sameTime(out.EndTime, t.EndTime)
	return out, changed
}

func takeWindow(t model.Task, d model.Draft) bool {
	switch {
	case d.StartTime == nil:
		return false
	case t.StartTime == nil:
		return true
	case t.TimeInferred != d.Inferred:
		return t.TimeInferred
	}
	return width(d.StartTime, d.EndTime) < width(t.StartTime, t.EndTime)
}

func width(start, end *time.Time) time.Duration {
	if end == nil {
		return math.MaxInt64
	}
	return end.Sub(*start)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
