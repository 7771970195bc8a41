package google

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/harrisonrobin/chronos/pkg/config"
	"github.com/harrisonrobin/chronos/pkg/index"
)

// NewClient creates the calendar client for the configured calendar, caching
// resolved calendar ids next to the config file.
func NewClient(log *slog.Logger, cfg config.Google, loc *time.Location, clients ClientSource) (*CalendarClient, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	idx, err := index.New(filepath.Join(dir, "calendars.json"))
	if err != nil {
		return nil, err
	}
	return NewCalendarClient(log, clients, cfg.Calendar, loc, idx), nil
}
