// Package slots suggests free time for a new task between existing ones.
package slots

import (
	"fmt"
	"sort"
	"time"

	"github.com/harrisonrobin/chronos/pkg/model"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// Hours is a working day, as offsets from midnight.
type Hours struct {
	Start time.Duration
	End   time.Duration
}

// DefaultHours is 09:00-17:00.
var DefaultHours = Hours{Start: 9 * time.Hour, End: 17 * time.Hour}

// ParseHours parses "HH:MM" bounds of a working day.
func ParseHours(start, end string) (Hours, error) {
	s, err := parseClock(start)
	if err != nil {
		return Hours{}, err
	}
	e, err := parseClock(end)
	if err != nil {
		return Hours{}, err
	}
	if e <= s {
		return Hours{}, fmt.Errorf("%w: working hours end %s is not after start %s", model.ErrInvalidInput, end, start)
	}
	return Hours{Start: s, End: e}, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid clock time %q", model.ErrInvalidInput, s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Suggest returns the start of every gap within the working hours of day
// that fits duration plus buffer, with each busy interval widened by buffer
// on both sides. day's location decides where the working hours fall.
func Suggest(busy []Interval, day time.Time, hours Hours, duration, buffer time.Duration) []time.Time {
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	open := midnight.Add(hours.Start)
	closeAt := midnight.Add(hours.End)
	need := duration + buffer

	widened := make([]Interval, 0, len(busy))
	for _, b := range busy {
		iv := Interval{Start: b.Start.Add(-buffer), End: b.End.Add(buffer)}
		if iv.End.After(open) && iv.Start.Before(closeAt) {
			widened = append(widened, iv)
		}
	}
	sort.Slice(widened, func(i, j int) bool { return widened[i].Start.Before(widened[j].Start) })

	var free []time.Time
	current := open
	for _, iv := range widened {
		if iv.Start.Sub(current) >= need {
			free = append(free, current)
		}
		if iv.End.After(current) {
			current = iv.End
		}
	}
	if closeAt.Sub(current) >= need {
		free = append(free, current)
	}
	return free
}

// Busy turns timed tasks into busy intervals, giving an open-ended task def.
func Busy(tasks []model.Task, def time.Duration) []Interval {
	out := make([]Interval, 0, len(tasks))
	for i := range tasks {
		start, end, ok := tasks[i].Window(def)
		if !ok {
			continue
		}
		out = append(out, Interval{Start: start, End: end})
	}
	return out
}
