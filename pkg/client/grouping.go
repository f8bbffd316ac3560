package client

import (
	"time"
)

type DayGroup struct {
	Label string
	// Day is midnight of the group's calendar day in the grouping location.
	Day     time.Time
	Entries []Entry
}

// GroupByDay splits ascending entries into runs that share a calendar day
// in now's location.
func GroupByDay(entries []Entry, now time.Time) []DayGroup {
	loc := now.Location()
	var groups []DayGroup
	for _, e := range entries {
		day := midnight(e.CreatedAt.In(loc))
		if n := len(groups); n > 0 && groups[n-1].Day.Equal(day) {
			groups[n-1].Entries = append(groups[n-1].Entries, e)
			continue
		}
		groups = append(groups, DayGroup{
			Label:   DayLabel(day, now),
			Day:     day,
			Entries: []Entry{e},
		})
	}
	return groups
}

// DayLabel names t's calendar day relative to now: "Today", "Yesterday",
// the weekday within the last week, otherwise the full date.
func DayLabel(t, now time.Time) string {
	t = t.In(now.Location())
	switch days := daysBetween(t, now); {
	case days == 0:
		return "Today"
	case days == 1:
		return "Yesterday"
	case days > 1 && days < 7:
		return t.Weekday().String()
	default:
		return t.Format("January 2, 2006")
	}
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// daysBetween counts calendar days from a to b, ignoring DST shifts.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
