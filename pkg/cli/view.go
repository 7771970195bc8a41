package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/harrisonrobin/chronos/pkg/model"
	"github.com/harrisonrobin/chronos/pkg/store"
)

var (
	clrDim    = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#555555"}
	clrAccent = lipgloss.AdaptiveColor{Light: "#0F766E", Dark: "#2DD4BF"}
	clrGreen  = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	clrYellow = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#F59E0B"}
	clrRed    = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(clrAccent)
	dimStyle    = lipgloss.NewStyle().Foreground(clrDim)
	whenStyle   = lipgloss.NewStyle().Width(24)
	titleStyle  = lipgloss.NewStyle().Width(36)
	statusStyle = lipgloss.NewStyle().Width(12)
	opStyle     = lipgloss.NewStyle().Width(8)
)

func syncStyle(s model.SyncStatus) lipgloss.Style {
	switch s {
	case model.SyncSynced:
		return statusStyle.Foreground(clrGreen)
	case model.SyncPending:
		return statusStyle.Foreground(clrYellow)
	case model.SyncFailed:
		return statusStyle.Foreground(clrRed)
	}
	return statusStyle.Foreground(clrDim)
}

// renderTasks writes one row per task, timed tasks first.
func renderTasks(w io.Writer, tasks []model.Task, loc *time.Location) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No tasks."))
		return
	}

	fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top,
		headerStyle.Inherit(whenStyle).Render("WHEN"),
		headerStyle.Inherit(titleStyle).Render("TITLE"),
		headerStyle.Inherit(statusStyle).Render("SYNC"),
		headerStyle.Render("ID"),
	))
	for _, t := range tasks {
		fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top,
			whenStyle.Render(formatWhen(t, loc)),
			titleStyle.Render(truncate(t.Title, 34)),
			syncStyle(t.SyncStatus).Render(string(t.SyncStatus)),
			dimStyle.Render(t.ID),
		))
	}
}

// renderHistory writes the audit trail of one task, oldest first.
func renderHistory(w io.Writer, events []store.AuditEvent, loc *time.Location) {
	fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top,
		headerStyle.Inherit(whenStyle).Render("AT"),
		headerStyle.Inherit(statusStyle).Render("VERSION"),
		headerStyle.Inherit(opStyle).Render("OP"),
		headerStyle.Render("SOURCE"),
	))
	for _, ev := range events {
		fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top,
			whenStyle.Render(ev.At.In(loc).Format("Mon Jan 02 15:04:05")),
			statusStyle.Render(fmt.Sprintf("v%d", ev.Version)),
			opStyle.Render(string(ev.Op)),
			dimStyle.Render(string(ev.Source)),
		))
	}
}

func formatWhen(t model.Task, loc *time.Location) string {
	if !t.HasWindow() {
		return "-"
	}
	start := t.StartTime.In(loc)
	s := start.Format("Mon Jan 02 15:04")
	if t.EndTime != nil {
		end := t.EndTime.In(loc)
		if end.YearDay() == start.YearDay() && end.Year() == start.Year() {
			s += end.Format("-15:04")
		}
	}
	if t.TimeInferred {
		s += "?"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}
