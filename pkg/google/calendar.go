// Package google projects tasks onto Google Calendar.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/harrisonrobin/chronos/pkg/calsync"
	"github.com/harrisonrobin/chronos/pkg/index"
	"github.com/harrisonrobin/chronos/pkg/model"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const primaryCalendar = "primary"

// ClientSource hands out an authorized HTTP client per owner.
type ClientSource interface {
	Client(ctx context.Context, ownerID string) (*http.Client, error)
}

// CalendarClient implements calsync.Calendar against the Calendar API,
// acting as each owner through their linked account.
type CalendarClient struct {
	log          *slog.Logger
	clients      ClientSource
	calendarName string
	loc          *time.Location
	index        *index.CalendarIndex
	opts         []option.ClientOption
}

var _ calsync.Calendar = (*CalendarClient)(nil)

// NewCalendarClient creates a client writing to the calendar named
// calendarName ("primary" or empty for each owner's primary calendar).
// opts are appended to every service, for example a test endpoint.
func NewCalendarClient(log *slog.Logger, clients ClientSource, calendarName string, loc *time.Location, idx *index.CalendarIndex, opts ...option.ClientOption) *CalendarClient {
	if calendarName == "" {
		calendarName = primaryCalendar
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CalendarClient{
		log:          log,
		clients:      clients,
		calendarName: calendarName,
		loc:          loc,
		index:        idx,
		opts:         opts,
	}
}

// CreateEvent inserts the event for ev.TaskID, or brings an event already
// carrying that task id up to date and returns its id.
func (c *CalendarClient) CreateEvent(ctx context.Context, ownerID string, ev calsync.Event) (string, error) {
	srv, calendarID, err := c.service(ctx, ownerID)
	if err != nil {
		return "", err
	}
	target := ToEvent(ev, c.loc)

	existing, err := c.findByTaskID(ctx, srv, calendarID, ev.TaskID)
	if err != nil {
		return "", c.calendarErr(ownerID, err)
	}
	if existing != nil {
		c.log.Debug("adopting existing calendar event", "owner_id", ownerID, "task_id", ev.TaskID, "event_id", existing.Id)
		if err := c.patch(ctx, srv, calendarID, existing, target); err != nil {
			return "", err
		}
		return existing.Id, nil
	}

	created, err := srv.Events.Insert(calendarID, target).Context(ctx).Do()
	if err != nil {
		return "", c.calendarErr(ownerID, err)
	}
	return created.Id, nil
}

func (c *CalendarClient) UpdateEvent(ctx context.Context, ownerID, eventID string, ev calsync.Event) error {
	srv, calendarID, err := c.service(ctx, ownerID)
	if err != nil {
		return err
	}
	existing, err := srv.Events.Get(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return classify(err)
	}
	if existing.Status == "cancelled" {
		return calsync.ErrEventGone
	}
	return c.patch(ctx, srv, calendarID, existing, ToEvent(ev, c.loc))
}

func (c *CalendarClient) DeleteEvent(ctx context.Context, ownerID, eventID string) error {
	srv, calendarID, err := c.service(ctx, ownerID)
	if err != nil {
		return err
	}
	if err := srv.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		return classify(err)
	}
	return nil
}

func (c *CalendarClient) patch(ctx context.Context, srv *calendar.Service, calendarID string, existing, target *calendar.Event) error {
	patch, err := EventNeedsUpdate(existing, target)
	if err != nil {
		return fmt.Errorf("could not compare task with its calendar event: %w", err)
	}
	if patch == nil {
		return nil
	}
	if _, err := srv.Events.Patch(calendarID, existing.Id, patch).Context(ctx).Do(); err != nil {
		return classify(err)
	}
	return nil
}

// findByTaskID looks for a live event that belongs to the task.
func (c *CalendarClient) findByTaskID(ctx context.Context, srv *calendar.Service, calendarID, taskID string) (*calendar.Event, error) {
	events, err := srv.Events.List(calendarID).
		PrivateExtendedProperty(fmt.Sprintf("%s=%s", TaskIDProperty, taskID)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	for _, item := range events.Items {
		if item.Status == "cancelled" {
			continue
		}
		if id, ok := TaskIDFromEvent(item); ok && id == taskID {
			return item, nil
		}
	}
	return nil, nil
}

func (c *CalendarClient) service(ctx context.Context, ownerID string) (*calendar.Service, string, error) {
	client, err := c.clients.Client(ctx, ownerID)
	if err != nil {
		return nil, "", err
	}
	opts := append([]option.ClientOption{option.WithHTTPClient(client)}, c.opts...)
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, "", fmt.Errorf("unable to retrieve Calendar client: %w", err)
	}

	calendarID, err := c.calendarID(ctx, srv, ownerID)
	if err != nil {
		return nil, "", err
	}
	return srv, calendarID, nil
}

// calendarID resolves the configured calendar name through the owner's
// calendar list, caching the answer.
func (c *CalendarClient) calendarID(ctx context.Context, srv *calendar.Service, ownerID string) (string, error) {
	if c.calendarName == primaryCalendar {
		return primaryCalendar, nil
	}
	if c.index != nil {
		if id := c.index.Get(ownerID, c.calendarName); id != "" {
			return id, nil
		}
	}

	calendarList, err := srv.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return "", classify(err)
	}
	for _, item := range calendarList.Items {
		if item.Summary == c.calendarName {
			if c.index != nil {
				c.index.Set(ownerID, c.calendarName, item.Id)
				if err := c.index.Save(); err != nil {
					c.log.Warn("could not save calendar index", "error", err)
				}
			}
			return item.Id, nil
		}
	}
	return "", fmt.Errorf("calendar %q not found for owner %s", c.calendarName, ownerID)
}

// calendarErr classifies err from a call addressed to the whole calendar. A
// 404 there means the cached calendar id is stale: it is evicted and the
// call reported as transient so the retry resolves the name again.
func (c *CalendarClient) calendarErr(ownerID string, err error) error {
	var apiErr *googleapi.Error
	if c.index == nil || c.calendarName == primaryCalendar || !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound {
		return classify(err)
	}
	c.log.Warn("calendar no longer found, forgetting cached id", "owner_id", ownerID, "calendar", c.calendarName)
	c.index.Remove(ownerID, c.calendarName)
	if err := c.index.Save(); err != nil {
		c.log.Warn("could not save calendar index", "error", err)
	}
	return fmt.Errorf("%w: calendar %q moved: %v", model.ErrTransient, c.calendarName, err)
}

// classify maps API failures onto the errors the sync engine acts on.
func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone:
			return fmt.Errorf("%w: %v", calsync.ErrEventGone, err)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return fmt.Errorf("%w: %v", model.ErrTransient, err)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", model.ErrTransient, err)
	}
	return err
}
