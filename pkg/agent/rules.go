package agent

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/harrisonrobin/chronos/pkg/extract"
	"github.com/harrisonrobin/chronos/pkg/model"
)

const (
	confidenceLeadingVerb = 0.9
	confidenceImplicit    = 0.6
	confidenceUnknown     = 0.3
)

var verbs = []struct {
	kind  model.IntentKind
	regex *regexp.Regexp
}{
	{model.IntentDelete, regexp.MustCompile(`(?i)^(?:please\s+)?(delete|remove|cancel|hapus|batalkan)\b\s*`)},
	{model.IntentUpdate, regexp.MustCompile(`(?i)^(?:please\s+)?(move|reschedule|rename|change|update|ubah|pindahkan|geser)\b\s*`)},
	{model.IntentQuery, regexp.MustCompile(`(?i)^(?:please\s+)?(list|show|what's|what|agenda|lihat|tampilkan)\b\s*`)},
	{model.IntentCreate, regexp.MustCompile(`(?i)^(?:please\s+)?(add|create|schedule|remind me to|tambah|tambahkan|buat|jadwalkan)\b\s*`)},
}

var (
	fillerRegex = regexp.MustCompile(`(?i)^(?:the|my|task|tugas|event|acara)\s+`)
	toRegex     = regexp.MustCompile(`(?i)\s+(?:to|ke|menjadi|jadi)\s+`)
)

// RuleClassifier recognizes commands by their leading verb and reads dates
// and times with the same phrase rules as the text extractor.
type RuleClassifier struct {
	Clock extract.Clock
}

func NewRuleClassifier(c extract.Clock) *RuleClassifier {
	return &RuleClassifier{Clock: c}
}

func (r *RuleClassifier) Classify(_ context.Context, text string) (Classification, error) {
	text = strings.TrimSpace(text)
	for _, v := range verbs {
		loc := v.regex.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		verb := strings.ToLower(text[loc[2]:loc[3]])
		rest := strings.TrimSpace(text[loc[1]:])
		c := Classification{Kind: v.kind, Confidence: confidenceLeadingVerb}
		switch v.kind {
		case model.IntentDelete:
			c.TargetTitle = cleanTarget(rest)
		case model.IntentUpdate:
			r.update(&c, verb, rest)
		case model.IntentQuery:
			r.query(&c, rest)
		case model.IntentCreate:
			r.create(&c, rest)
		}
		return c, nil
	}

	// No verb: a bare phrase with a date or time reads as something to add.
	w := extract.ParseWhen(text, r.Clock.CurrentTime(), r.Clock.TimeZone())
	if w.Date != nil || w.HasTime() {
		c := Classification{Kind: model.IntentCreate, Confidence: confidenceImplicit}
		r.create(&c, text)
		return c, nil
	}
	return Classification{Kind: model.IntentCreate, Confidence: confidenceUnknown}, nil
}

func (r *RuleClassifier) create(c *Classification, rest string) {
	now := r.Clock.CurrentTime()
	w := extract.ParseWhen(rest, now, r.Clock.TimeZone())
	title := cleanTarget(w.Rest)
	c.Payload.Title = &title
	c.Payload.StartTime, c.Payload.EndTime, c.Payload.Inferred = w.Window(now, r.Clock.Duration())
}

// update reads "rename X to Y" as a new title and "move X to <when>" as a
// new time window.
func (r *RuleClassifier) update(c *Classification, verb, rest string) {
	parts := toRegex.Split(rest, 2)
	c.TargetTitle = cleanTarget(parts[0])
	if len(parts) < 2 {
		c.Confidence = confidenceImplicit
		return
	}
	value := strings.TrimSpace(parts[1])

	if verb == "rename" {
		c.Payload.Title = &value
		return
	}

	now := r.Clock.CurrentTime()
	w := extract.ParseWhen(value, now, r.Clock.TimeZone())
	if w.Date == nil && !w.HasTime() {
		c.Payload.Title = &value
		c.Confidence = confidenceImplicit
		return
	}
	start, end, _ := w.Window(now, r.Clock.Duration())
	if end == nil {
		e := start.Add(r.Clock.Duration())
		end = &e
	}
	c.Payload.StartTime, c.Payload.EndTime = start, end
}

func (r *RuleClassifier) query(c *Classification, rest string) {
	w := extract.ParseWhen(rest, r.Clock.CurrentTime(), r.Clock.TimeZone())
	if w.Date == nil {
		return
	}
	from := *w.Date
	to := from.Add(24 * time.Hour)
	c.Payload.From, c.Payload.To = &from, &to
}

func cleanTarget(s string) string {
	s = strings.TrimSpace(s)
	for {
		trimmed := fillerRegex.ReplaceAllString(s, "")
		if trimmed == s {
			break
		}
		s = trimmed
	}
	return strings.Trim(s, ` "'.,!?`)
}
