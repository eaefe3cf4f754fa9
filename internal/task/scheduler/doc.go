// Package scheduler runs housekeeping jobs (schedule cleanup, backups) on cron
// or interval specs in the configured timezone.
//
// It is separate from the dispatch loop: dispatch has its own fixed-interval
// ticker, while jobs here are operator-configured and may overlap with it only
// through the dispatch gate.
package scheduler
