package extract

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"iter"
	"regexp"
	"strings"
	"time"

	"github.com/harrisonrobin/chronos/pkg/model"
)

var (
	orgHeadlineRegex  = regexp.MustCompile(`^\*+\s+(?:(TODO|NEXT|WAITING|DONE|CANCELLED)\s+)?(?:\[#[A-Z]\]\s*)?(.*?)(?:\s+:[\w@:]+:)?\s*$`)
	orgTimestampRegex = regexp.MustCompile(`(SCHEDULED|DEADLINE):\s+<(\d{4}-\d{2}-\d{2})(?:\s+[^\s\d>]+)?(?:\s+(\d{1,2}:\d{2})(?:-(\d{1,2}:\d{2}))?)?[^>]*>`)
)

const (
	confidenceOrgTimed = 0.95
	confidenceOrgDay   = 0.7
	confidenceOrgBare  = 0.5
)

// OrgAdapter reads open Org-mode headlines. SCHEDULED wins over DEADLINE when
// a headline has both; finished and cancelled headlines are skipped.
type OrgAdapter struct {
	Clock
}

func NewOrgAdapter(c Clock) *OrgAdapter {
	return &OrgAdapter{Clock: c}
}

type orgEntry struct {
	title     string
	scheduled []string
	deadline  []string
}

func (a *OrgAdapter) Extract(ctx context.Context, raw []byte) iter.Seq2[model.Draft, error] {
	return func(yield func(model.Draft, error) bool) {
		var cur *orgEntry
		flush := func() bool {
			if cur == nil {
				return true
			}
			d := a.draft(*cur)
			cur = nil
			return yield(d, nil)
		}

		scanner := bufio.NewScanner(bytes.NewReader(raw))
		for scanner.Scan() {
			if err := ctx.Err(); err != nil {
				yield(model.Draft{}, err)
				return
			}
			line := scanner.Text()

			if strings.HasPrefix(line, "*") {
				if !flush() {
					return
				}
				m := orgHeadlineRegex.FindStringSubmatch(line)
				if m == nil || m[1] == "DONE" || m[1] == "CANCELLED" || strings.TrimSpace(m[2]) == "" {
					continue
				}
				cur = &orgEntry{title: strings.TrimSpace(m[2])}
				continue
			}
			if cur == nil {
				continue
			}
			for _, m := range orgTimestampRegex.FindAllStringSubmatch(line, -1) {
				if m[1] == "SCHEDULED" {
					cur.scheduled = m[2:]
				} else {
					cur.deadline = m[2:]
				}
			}
		}
		if err := scanner.Err(); err != nil {
			yield(model.Draft{}, fmt.Errorf("read org document: %w", err))
			return
		}
		flush()
	}
}

func (a *OrgAdapter) draft(e orgEntry) model.Draft {
	d := model.Draft{Title: e.title, Source: model.SourcePDF, Confidence: confidenceOrgBare}

	ts := e.scheduled
	if ts == nil {
		ts = e.deadline
	}
	if ts == nil {
		return d
	}

	loc := a.TimeZone()
	day, err := time.ParseInLocation("2006-01-02", ts[0], loc)
	if err != nil {
		return d
	}
	if ts[1] == "" {
		d.StartTime, d.EndTime, d.Inferred = When{Date: &day}.Window(a.CurrentTime(), a.Duration())
		d.Confidence = confidenceOrgDay
		return d
	}

	start, err := time.ParseInLocation("2006-01-02 15:04", ts[0]+" "+ts[1], loc)
	if err != nil {
		return d
	}
	d.StartTime = &start
	d.Confidence = confidenceOrgTimed
	if ts[2] != "" {
		if end, err := time.ParseInLocation("2006-01-02 15:04", ts[0]+" "+ts[2], loc); err == nil && end.After(start) {
			d.EndTime = &end
		}
	}
	return d
}

// DocumentAdapter sends Org-mode files to Org and every other document to
// Fallback.
type DocumentAdapter struct {
	Org      Adapter
	Fallback Adapter
}

func (a *DocumentAdapter) Extract(ctx context.Context, raw []byte) iter.Seq2[model.Draft, error] {
	if a.Org != nil && IsOrg(raw) {
		return a.Org.Extract(ctx, raw)
	}
	return a.Fallback.Extract(ctx, raw)
}

// IsOrg reports whether the first meaningful line of doc is an Org headline
// or keyword.
func IsOrg(doc []byte) bool {
	scanner := bufio.NewScanner(bytes.NewReader(doc))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		return orgHeadlineRegex.MatchString(line) && strings.HasPrefix(line, "* ") ||
			strings.HasPrefix(line, "#+")
	}
	return false
}
