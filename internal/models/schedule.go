package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

type ScheduleMode string

const (
	ScheduleOff       ScheduleMode = "off"
	ScheduleDateRange ScheduleMode = "date_range"
)

func ParseScheduleMode(s string) (ScheduleMode, error) {
	switch ScheduleMode(strings.TrimSpace(s)) {
	case ScheduleOff, "":
		return ScheduleOff, nil
	case ScheduleDateRange:
		return ScheduleDateRange, nil
	}
	return "", invalid("schedule_mode", "must be %q or %q", ScheduleOff, ScheduleDateRange)
}

// ScheduleWindow is one calendar date plus a time-of-day range. A window whose
// start is later than its end wraps past midnight but still only matches on
// its own date.
type ScheduleWindow struct {
	Date  string `json:"date"`
	Start string `json:"start_time"`
	End   string `json:"end_time"`
}

// Normalize validates the window and returns it with zero-padded labels, so
// that later comparisons can be done on the strings directly.
func (w ScheduleWindow) Normalize() (ScheduleWindow, error) {
	date, start, end := strings.TrimSpace(w.Date), strings.TrimSpace(w.Start), strings.TrimSpace(w.End)
	if date == "" || start == "" || end == "" {
		return ScheduleWindow{}, invalid("schedules", "date, start_time and end_time are required")
	}
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return ScheduleWindow{}, invalid("schedules", "bad date %q", date)
	}
	s, err := time.Parse(ClockLayout, start)
	if err != nil {
		return ScheduleWindow{}, invalid("schedules", "bad start_time %q", start)
	}
	e, err := time.Parse(ClockLayout, end)
	if err != nil {
		return ScheduleWindow{}, invalid("schedules", "bad end_time %q", end)
	}
	return ScheduleWindow{
		Date:  d.Format(DateLayout),
		Start: s.Format(ClockLayout),
		End:   e.Format(ClockLayout),
	}, nil
}

// Covers reports whether now falls inside the window. now must already be in
// the process-wide local zone.
func (w ScheduleWindow) Covers(now time.Time) bool {
	if w.Date != now.Format(DateLayout) {
		return false
	}
	cur := now.Format(ClockLayout)
	if w.Start <= w.End {
		return w.Start <= cur && cur <= w.End
	}
	return cur >= w.Start || cur <= w.End
}

func (w ScheduleWindow) Expired(today string) bool {
	return w.Date < today
}

const maxSummaryWindows = 3

// ScheduleSummary renders upcoming windows for display, e.g.
// "2/23 12:00-22:00 | 2/24 00:00-12:00 (+2)".
func ScheduleSummary(mode ScheduleMode, windows []ScheduleWindow, today string) string {
	if mode != ScheduleDateRange {
		return ""
	}
	if len(windows) == 0 {
		return "schedule: no windows"
	}

	upcoming := make([]ScheduleWindow, 0, len(windows))
	for _, w := range windows {
		if !w.Expired(today) {
			upcoming = append(upcoming, w)
		}
	}
	if len(upcoming) == 0 {
		return "schedule: all expired"
	}
	sort.Slice(upcoming, func(i, j int) bool {
		return upcoming[i].Date+upcoming[i].Start < upcoming[j].Date+upcoming[j].Start
	})

	parts := make([]string, 0, maxSummaryWindows)
	for _, w := range upcoming[:min(len(upcoming), maxSummaryWindows)] {
		label := w.Date
		if d, err := time.Parse(DateLayout, w.Date); err == nil {
			label = fmt.Sprintf("%d/%d", d.Month(), d.Day())
		}
		parts = append(parts, fmt.Sprintf("%s %s-%s", label, w.Start, w.End))
	}
	out := strings.Join(parts, " | ")
	if extra := len(upcoming) - maxSummaryWindows; extra > 0 {
		out += fmt.Sprintf(" (+%d)", extra)
	}
	return out
}
