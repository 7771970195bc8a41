package google

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/harrisonrobin/chronos/pkg/calsync"
	"github.com/harrisonrobin/chronos/pkg/model"
	"google.golang.org/api/calendar/v3"
)

// TaskIDProperty is the private extended property linking an event to its task.
const TaskIDProperty = "chronos_task_id"

// Event colors per capture channel (Google Calendar event color ids).
var sourceColors = map[model.Source]string{
	model.SourceManual: "9", // blueberry
	model.SourceNLP:    "2", // sage
	model.SourcePDF:    "5", // banana
	model.SourceAgent:  "3", // grape
}

// ToEvent converts a task projection into a calendar event in loc.
func ToEvent(ev calsync.Event, loc *time.Location) *calendar.Event {
	var desc strings.Builder
	fmt.Fprintf(&desc, "Source: %s\n", ev.Source)
	if ev.Inferred {
		desc.WriteString("Time: assumed, not stated\n")
	}
	fmt.Fprintf(&desc, "Task: %s\n", ev.TaskID)

	return &calendar.Event{
		Summary:     ev.Title,
		Description: desc.String(),
		ColorId:     sourceColors[ev.Source],
		Start: &calendar.EventDateTime{
			DateTime: ev.Start.In(loc).Format(time.RFC3339),
			TimeZone: loc.String(),
		},
		End: &calendar.EventDateTime{
			DateTime: ev.End.In(loc).Format(time.RFC3339),
			TimeZone: loc.String(),
		},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{
				TaskIDProperty: ev.TaskID,
			},
		},
	}
}

// EventNeedsUpdate returns a patch holding the fields of target that differ
// from existing, or nil when the event is already up to date.
func EventNeedsUpdate(existing, target *calendar.Event) (*calendar.Event, error) {
	patch := &calendar.Event{}
	needsUpdate := false

	if existing.Summary != target.Summary {
		patch.Summary = target.Summary
		needsUpdate = true
	}
	if existing.Description != target.Description {
		patch.Description = target.Description
		needsUpdate = true
	}
	if existing.ColorId != target.ColorId {
		patch.ColorId = target.ColorId
		needsUpdate = true
	}

	sameStart, err := sameInstant(existing.Start, target.Start)
	if err != nil {
		return nil, err
	}
	sameEnd, err := sameInstant(existing.End, target.End)
	if err != nil {
		return nil, err
	}
	if !sameStart || !sameEnd {
		patch.Start = target.Start
		patch.End = target.End
		needsUpdate = true
	}

	if existing.ExtendedProperties == nil || existing.ExtendedProperties.Private[TaskIDProperty] != target.ExtendedProperties.Private[TaskIDProperty] {
		patch.ExtendedProperties = target.ExtendedProperties
		needsUpdate = true
	}

	if needsUpdate {
		return patch, nil
	}
	return nil, nil
}

func sameInstant(a, b *calendar.EventDateTime) (bool, error) {
	if a == nil || b == nil || a.DateTime == "" {
		return false, nil
	}
	at, err := time.Parse(time.RFC3339, a.DateTime)
	if err != nil {
		return false, err
	}
	bt, err := time.Parse(time.RFC3339, b.DateTime)
	if err != nil {
		return false, err
	}
	return at.Equal(bt), nil
}

var descriptionTaskID = regexp.MustCompile(`Task: ([a-f0-9\-]+)`)

// TaskIDFromEvent returns the task an event belongs to, reading the
// extended property first and the description second.
func TaskIDFromEvent(ev *calendar.Event) (string, bool) {
	if ev.ExtendedProperties != nil {
		if id, ok := ev.ExtendedProperties.Private[TaskIDProperty]; ok && id != "" {
			return id, true
		}
	}
	if m := descriptionTaskID.FindStringSubmatch(ev.Description); len(m) > 1 {
		return m[1], true
	}
	return "", false
}
