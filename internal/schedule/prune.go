package schedule

import (
	"time"

	"tvbot/internal/model"
)

// DefaultRetention is how long past entries are kept before cleanup drops them.
const DefaultRetention = 24 * time.Hour

// Prune drops entries whose instant is older than now-retention and entries
// that cannot be parsed. Both slices keep the input order.
func Prune(entries []model.ScheduleEntry, now time.Time, retention time.Duration, loc *time.Location) (kept, removed []model.ScheduleEntry) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if loc == nil {
		loc = now.Location()
	}
	cutoff := now.In(loc).Add(-retention)
	kept = make([]model.ScheduleEntry, 0, len(entries))
	for _, e := range entries {
		at, err := e.Instant(loc)
		if err != nil || at.Before(cutoff) {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	return kept, removed
}

// PurgeSent drops every entry already marked sent.
func PurgeSent(entries []model.ScheduleEntry) (kept []model.ScheduleEntry, removed int) {
	kept = make([]model.ScheduleEntry, 0, len(entries))
	for _, e := range entries {
		if e.Sent {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	return kept, removed
}
