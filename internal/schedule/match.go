package schedule

import (
	"sort"
	"time"

	"tvbot/internal/model"
)

// DefaultTolerance is the due window half-width.
const DefaultTolerance = 60 * time.Second

// Malformed is an entry whose date/time cannot be read.
type Malformed struct {
	ID  string
	Err error
}

// Result is the outcome of FindDue. Due keeps the input order.
type Result struct {
	Due       []model.ScheduleEntry
	Malformed []Malformed
}

// FindDue returns the pending entries whose instant lies within tolerance of now
// (inclusive on both sides). Entries that fail to parse are reported in
// Malformed and never returned as due. now is read in loc.
func FindDue(entries []model.ScheduleEntry, now time.Time, tolerance time.Duration, loc *time.Location) Result {
	if tolerance < 0 {
		tolerance = 0
	}
	if loc == nil {
		loc = now.Location()
	}
	now = now.In(loc)

	var res Result
	for _, e := range entries {
		if !e.Pending() {
			continue
		}
		at, err := e.Instant(loc)
		if err != nil {
			res.Malformed = append(res.Malformed, Malformed{ID: e.ID, Err: err})
			continue
		}
		d := now.Sub(at)
		if d < 0 {
			d = -d
		}
		if d <= tolerance {
			res.Due = append(res.Due, e)
		}
	}
	return res
}

// Upcoming returns pending entries dated from today through today+days, sorted
// by instant. Entries already past now are included while still on today's date.
func Upcoming(entries []model.ScheduleEntry, now time.Time, days int, loc *time.Location) []model.ScheduleEntry {
	if days < 0 {
		days = 0
	}
	if loc == nil {
		loc = now.Location()
	}
	now = now.In(loc)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	to := from.AddDate(0, 0, days+1)

	type item struct {
		e  model.ScheduleEntry
		at time.Time
	}
	var items []item
	for _, e := range entries {
		if !e.Pending() {
			continue
		}
		at, err := e.Instant(loc)
		if err != nil || at.Before(from) || !at.Before(to) {
			continue
		}
		items = append(items, item{e, at})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].at.Before(items[j].at) })

	out := make([]model.ScheduleEntry, len(items))
	for i, it := range items {
		out[i] = it.e
	}
	return out
}
