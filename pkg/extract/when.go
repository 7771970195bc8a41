package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	isoDateRegex   = regexp.MustCompile(`(?i)\b(?:on\s+)?(\d{4})-(\d{2})-(\d{2})\b`)
	relDayRegex    = regexp.MustCompile(`(?i)\b(today|tonight|tomorrow|hari ini|besok)\b`)
	weekdayRegex   = regexp.MustCompile(`(?i)\b(?:on\s+|next\s+|this\s+|hari\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday|senin|selasa|rabu|kamis|jumat|sabtu|minggu)\b`)
	timeRangeRegex = regexp.MustCompile(`(?i)\b(?:from\s+|at\s+|jam\s+|pukul\s+)?(\d{1,2})(?:[:.](\d{2}))?\s*(am|pm)?\s*(?:-|–|to|until|sampai)\s*(\d{1,2})(?:[:.](\d{2}))?\s*(am|pm)?\b`)
	timeRegex      = regexp.MustCompile(`(?i)\b(?:at\s+|jam\s+|pukul\s+)?(\d{1,2})(?:([:.])(\d{2}))?\s*(am|pm)?\b`)
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
	"minggu": time.Sunday, "senin": time.Monday, "selasa": time.Tuesday,
	"rabu": time.Wednesday, "kamis": time.Thursday, "jumat": time.Friday,
	"sabtu": time.Saturday,
}

type clock struct {
	hour, min int
}

// When is the date/time information recognized in a phrase.
type When struct {
	Date  *time.Time // midnight of the recognized day, in the parse location
	Start *clock
	End   *clock
	// Rest is the input with every recognized phrase removed.
	Rest string
}

// HasTime reports whether an explicit time of day was recognized.
func (w When) HasTime() bool { return w.Start != nil }

// ParseWhen recognizes ISO dates, relative days, weekday names, times of day
// and time ranges in text. Days are resolved relative to now in loc.
func ParseWhen(text string, now time.Time, loc *time.Location) When {
	now = now.In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	var w When
	var spans [][2]int
	masked := []byte(text)
	take := func(loc []int) {
		spans = append(spans, [2]int{loc[0], loc[1]})
		for i := loc[0]; i < loc[1]; i++ {
			masked[i] = ' '
		}
	}

	if m := isoDateRegex.FindSubmatchIndex(masked); m != nil {
		y, _ := strconv.Atoi(text[m[2]:m[3]])
		mo, _ := strconv.Atoi(text[m[4]:m[5]])
		d, _ := strconv.Atoi(text[m[6]:m[7]])
		date := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, loc)
		if date.Month() == time.Month(mo) && date.Day() == d {
			w.Date = &date
			take(m)
		}
	}

	if w.Date == nil {
		if m := relDayRegex.FindSubmatchIndex(masked); m != nil {
			date := today
			switch strings.ToLower(text[m[2]:m[3]]) {
			case "tomorrow", "besok":
				date = today.AddDate(0, 0, 1)
			}
			w.Date = &date
			take(m)
		}
	}

	if w.Date == nil {
		if m := weekdayRegex.FindSubmatchIndex(masked); m != nil {
			wd := weekdays[strings.ToLower(text[m[2]:m[3]])]
			date := NextWeekday(today, wd)
			w.Date = &date
			take(m)
		}
	}

	if m := timeRangeRegex.FindSubmatchIndex(masked); m != nil {
		if start, end, ok := parseRange(text, m); ok {
			w.Start, w.End = &start, &end
			take(m)
		}
	}

	if w.Start == nil {
		for _, m := range timeRegex.FindAllSubmatchIndex(masked, -1) {
			hasMinutes := m[4] >= 0
			hasMeridiem := m[8] >= 0
			if !hasMinutes && !hasMeridiem {
				continue
			}
			c, ok := toClock(text[m[2]:m[3]], group(text, m, 6), group(text, m, 8))
			if !ok {
				continue
			}
			w.Start = &c
			take(m)
			break
		}
	}

	w.Rest = cleanTitle(text, spans)
	return w
}

// NextWeekday returns the first day on or after from that falls on wd.
func NextWeekday(from time.Time, wd time.Weekday) time.Time {
	diff := (int(wd) - int(from.Weekday()) + 7) % 7
	return from.AddDate(0, 0, diff)
}

// ParseWeekday resolves an English or Indonesian day name.
func ParseWeekday(s string) (time.Weekday, bool) {
	wd, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	return wd, ok
}

func parseRange(text string, m []int) (clock, clock, bool) {
	hasStartDetail := m[4] >= 0 || m[6] >= 0
	hasEndDetail := m[10] >= 0 || m[12] >= 0
	if !hasStartDetail && !hasEndDetail {
		return clock{}, clock{}, false
	}

	startMeridiem := group(text, m, 6)
	endMeridiem := group(text, m, 12)
	if startMeridiem == "" {
		startMeridiem = endMeridiem
	}

	start, ok := toClock(text[m[2]:m[3]], group(text, m, 4), startMeridiem)
	if !ok {
		return clock{}, clock{}, false
	}
	end, ok := toClock(text[m[8]:m[9]], group(text, m, 10), endMeridiem)
	if !ok {
		return clock{}, clock{}, false
	}
	return start, end, true
}

func group(text string, m []int, i int) string {
	if m[i] < 0 {
		return ""
	}
	return text[m[i]:m[i+1]]
}

func toClock(hourStr, minStr, meridiem string) (clock, bool) {
	hour, err := strconv.Atoi(hourStr)
	if err != nil {
		return clock{}, false
	}
	min := 0
	if minStr != "" {
		if min, err = strconv.Atoi(minStr); err != nil || min > 59 {
			return clock{}, false
		}
	}
	switch strings.ToLower(meridiem) {
	case "am":
		if hour < 1 || hour > 12 {
			return clock{}, false
		}
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 1 || hour > 12 {
			return clock{}, false
		}
		if hour != 12 {
			hour += 12
		}
	}
	if hour > 23 {
		return clock{}, false
	}
	return clock{hour: hour, min: min}, true
}

func cleanTitle(text string, spans [][2]int) string {
	sort.Slice(spans, func(i, j int) bool { return spans[i][0] > spans[j][0] })
	for _, sp := range spans {
		text = text[:sp[0]] + " " + text[sp[1]:]
	}
	title := strings.Join(strings.Fields(text), " ")
	return strings.Trim(title, " ,.;:-–")
}

// at combines a day and a clock in the day's location.
func at(day time.Time, c clock) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.hour, c.min, 0, 0, day.Location())
}

// Window turns the recognized phrase into a time window. A bare day starts at
// 09:00 for def and is reported as inferred; a bare time falls on today.
func (w When) Window(now time.Time, def time.Duration) (start, end *time.Time, inferred bool) {
	if w.Date == nil && w.Start == nil {
		return nil, nil, false
	}
	if w.Start == nil {
		s := at(*w.Date, clock{hour: 9})
		e := s.Add(def)
		return &s, &e, true
	}

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if w.Date != nil {
		day = *w.Date
	}
	s := at(day, *w.Start)
	if w.End == nil {
		return &s, nil, false
	}
	e := at(day, *w.End)
	if !e.After(s) {
		e = e.Add(24 * time.Hour)
	}
	return &s, &e, false
}
