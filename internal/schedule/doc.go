// Package schedule holds the pure selection rules over schedule entries:
// which entries are due now, which are stale, which are coming up.
// Nothing here does I/O.
package schedule
