// Package report aggregates sessions into daily and grouped views.
package report

import (
	"fmt"
	"sort"
	"time"

	"punchclock/internal/punch"
)

// DayTotal is one local calendar day's worked total.
type DayTotal struct {
	Date    string `json:"date"` // YYYY-MM-DD in loc
	TotalMs int64  `json:"totalMs"`
}

// DailyTotals sums closed sessions per local calendar day, ascending by date.
// Open sessions and sessions whose end does not land after their start are
// skipped.
func DailyTotals(sessions []punch.Session, loc *time.Location) []DayTotal {
	if loc == nil {
		loc = time.Local
	}

	totals := make(map[string]int64)
	for _, s := range sessions {
		if s.Active || s.StartMs == 0 || s.EndMs <= s.StartMs {
			continue
		}
		key := dayKey(s.StartMs, loc)
		totals[key] += s.EndMs - s.StartMs
	}

	out := make([]DayTotal, 0, len(totals))
	for date, total := range totals {
		out = append(out, DayTotal{Date: date, TotalMs: total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// DayGroup is one local calendar day's sessions with the day's closed total.
type DayGroup struct {
	Date     string          `json:"date"`
	TotalMs  int64           `json:"totalMs"`
	Sessions []punch.Session `json:"sessions"`
}

// GroupByDay buckets all sessions by local calendar day. Day totals count
// closed sessions only; within a day active sessions come first, then by
// start descending; days are ordered newest first. Sessions without a
// resolvable start are dropped.
func GroupByDay(sessions []punch.Session, loc *time.Location) []DayGroup {
	if loc == nil {
		loc = time.Local
	}

	groups := make(map[string]*DayGroup)
	for _, s := range sessions {
		if s.StartMs == 0 {
			continue
		}
		key := dayKey(s.StartMs, loc)
		g, found := groups[key]
		if !found {
			g = &DayGroup{Date: key}
			groups[key] = g
		}
		g.Sessions = append(g.Sessions, s)
		if !s.Active && s.EndMs > s.StartMs {
			g.TotalMs += s.EndMs - s.StartMs
		}
	}

	out := make([]DayGroup, 0, len(groups))
	for _, g := range groups {
		sort.Slice(g.Sessions, func(i, j int) bool {
			a, b := g.Sessions[i], g.Sessions[j]
			if a.Active != b.Active {
				return a.Active
			}
			return a.StartMs > b.StartMs
		})
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// FormatMillis renders an epoch-millisecond total as "Xh Ym".
func FormatMillis(ms int64) string {
	h := ms / 3_600_000
	m := (ms % 3_600_000) / 60_000
	return fmt.Sprintf("%dh %dm", h, m)
}

func dayKey(ms int64, loc *time.Location) string {
	return time.UnixMilli(ms).In(loc).Format("2006-01-02")
}
