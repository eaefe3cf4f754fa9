// Package model holds the persisted records: recipients, schedule entries
// and the documents the stores load and save as a whole.
package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RecipientID is an opaque external recipient identifier. In JSON it is either
// a number or a string; the original kind is kept on re-encode.
type RecipientID struct {
	raw     string
	numeric bool
}

// IntID builds a numeric id.
func IntID(v int64) RecipientID {
	return RecipientID{raw: strconv.FormatInt(v, 10), numeric: true}
}

// StringID builds a string id; it stays quoted in JSON even if it holds digits.
func StringID(s string) RecipientID { return RecipientID{raw: s} }

// ParseRecipientID reads an id typed by an operator: integers become numeric ids,
// anything else (e.g. "@channel") stays a string id.
func ParseRecipientID(s string) (RecipientID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return RecipientID{}, errors.New("empty recipient id")
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return RecipientID{raw: s, numeric: true}, nil
	}
	return RecipientID{raw: s}, nil
}

func (id RecipientID) String() string { return id.raw }
func (id RecipientID) IsZero() bool   { return id.raw == "" }
func (id RecipientID) Numeric() bool  { return id.numeric }

// Int64 returns the numeric value. String ids that happen to hold digits also parse.
func (id RecipientID) Int64() (int64, bool) {
	v, err := strconv.ParseInt(id.raw, 10, 64)
	return v, err == nil
}

func (id RecipientID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(id.raw), nil
	}
	return json.Marshal(id.raw)
}

func (id *RecipientID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return errors.New("recipient id is null")
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = RecipientID{raw: s}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("recipient id: %w", err)
	}
	if _, err := n.Int64(); err != nil {
		return fmt.Errorf("recipient id %s is not an integer", n)
	}
	*id = RecipientID{raw: n.String(), numeric: true}
	return nil
}

// Recipient is an addressee of broadcasts.
type Recipient struct {
	ID     RecipientID `json:"id"`
	Name   string      `json:"name"`
	Active bool        `json:"active"`
}

// DefaultRecipientName is used when a recipient is added without a name.
func DefaultRecipientName(id RecipientID) string { return "user" + id.String() }

// RecipientDoc is the whole recipient store, {"users": [...]} on disk.
type RecipientDoc struct {
	Users []Recipient `json:"users"`
}

// Active returns the active recipients' ids in store order.
func (d RecipientDoc) Active() []RecipientID {
	out := make([]RecipientID, 0, len(d.Users))
	for _, u := range d.Users {
		if u.Active {
			out = append(out, u.ID)
		}
	}
	return out
}

// Index returns the position of id or -1.
func (d RecipientDoc) Index(id RecipientID) int {
	for i, u := range d.Users {
		if u.ID.String() == id.String() {
			return i
		}
	}
	return -1
}

// Layouts of the date and time fields of a schedule entry.
const (
	DateLayout    = "2006-01-02"
	ClockLayout   = "15:04"
	InstantLayout = DateLayout + " " + ClockLayout
)

// ScheduleEntry is one announcement to broadcast at a wall-clock minute.
type ScheduleEntry struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	Hour        int    `json:"hour"`
	Minute      int    `json:"minute"`
	Time        string `json:"time"`
	Channel     string `json:"channel,omitempty"`
	ProgramName string `json:"program_name,omitempty"`
	Message     string `json:"message"`
	Active      bool   `json:"active"`
	Sent        bool   `json:"sent"`
	CreatedAt   string `json:"created_at,omitempty"`

	SentAt       string `json:"sent_at,omitempty"`
	EmptyRetries int    `json:"empty_retries,omitempty"`
}

// Pending reports whether the entry may still be dispatched.
func (e ScheduleEntry) Pending() bool { return e.Active && !e.Sent }

// Instant parses date+time in loc.
func (e ScheduleEntry) Instant(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(InstantLayout, strings.TrimSpace(e.Date)+" "+strings.TrimSpace(e.Time), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("entry %q: bad date/time %q %q: %w", e.ID, e.Date, e.Time, err)
	}
	return t, nil
}

// MarkSent records a committed delivery.
func (e *ScheduleEntry) MarkSent(at time.Time) {
	e.Sent = true
	e.SentAt = at.Format(time.RFC3339)
	e.EmptyRetries = 0
}

// EntryID builds the conventional id "<date>_<HH:MM>_<channel>_<program>".
func EntryID(date, clock, channel, program string) string {
	return date + "_" + clock + "_" + channel + "_" + program
}

// ScheduleDoc is the whole schedule store, {"schedules": [...]} on disk.
type ScheduleDoc struct {
	Schedules []ScheduleEntry `json:"schedules"`
}

// Index returns the position of id or -1.
func (d ScheduleDoc) Index(id string) int {
	for i, e := range d.Schedules {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers can mutate without touching the loaded value.
func (d ScheduleDoc) Clone() ScheduleDoc {
	return ScheduleDoc{Schedules: append([]ScheduleEntry(nil), d.Schedules...)}
}

// Backup is the document written by the backup operation.
type Backup struct {
	Schedules  []ScheduleEntry `json:"schedules"`
	Users      []Recipient     `json:"users"`
	BackupTime string          `json:"backup_time"`
}
