// Package storage persists recipients and schedule entries.
//
// Both stores follow a whole-state contract: Load returns the full document,
// Save replaces it. Drivers:
//   - "file": users.json / tv_schedules.json, atomic rewrite + audit jsonl
//   - "sqlite": single database file (modernc.org/sqlite, pure Go)
package storage
