package dispatch

import (
	"context"
	"errors"
	"time"

	"tvbot/internal/delivery"
	"tvbot/internal/eventbus"
	"tvbot/internal/storage"
	logx "tvbot/pkg/logx"
)

var (
	ErrNoRecipients = errors.New("no active recipients")
	ErrNotFound     = errors.New("not found")
	ErrAlreadySent  = errors.New("already sent")
)

// Event types published on the bus.
const (
	EventCycle        = "dispatch.cycle"
	EventSent         = "dispatch.sent"
	EventNoRecipients = "dispatch.no_recipients"
	EventSaveFailed   = "dispatch.save_failed"
)

type State int32

const (
	StateIdle State = iota
	StateDispatching
)

func (s State) String() string {
	if s == StateDispatching {
		return "DISPATCHING"
	}
	return "IDLE"
}

type Config struct {
	Interval    time.Duration
	Tolerance   time.Duration
	Location    *time.Location
	// MaxEmptyRetries > 0 deactivates an entry after that many due cycles
	// without active recipients. It cannot exceed DueCycles. 0 retries while
	// the entry stays due.
	MaxEmptyRetries int
	RunOnStart      bool
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.Tolerance < 0 {
		c.Tolerance = 0
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.MaxEmptyRetries < 0 {
		c.MaxEmptyRetries = 0
	}
	return c
}

// DueCycles is the most cycles one entry can be due for: the window spans
// 2*Tolerance and a cycle runs every Interval.
func (c Config) DueCycles() int {
	c = c.withDefaults()
	return int(2*c.Tolerance/c.Interval) + 1
}

// Auditor records dispatch sends. storage.Store satisfies it.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Deps are the collaborators of the dispatch service.
type Deps struct {
	Recipients storage.RecipientStore
	Schedules  storage.ScheduleStore
	Client     delivery.Client
	Audit      Auditor      // optional
	Bus        eventbus.Bus // optional
	Log        logx.Logger
	Now        func() time.Time // optional clock
}

// EntryReport describes what happened to one due entry.
type EntryReport struct {
	ID         string `json:"id"`
	Outcome    string `json:"outcome"` // sent, no_recipients, deactivated
	Recipients int    `json:"recipients"`
	Successes  int    `json:"successes"`
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	ID        string        `json:"id"`
	Now       time.Time     `json:"now"`
	Took      time.Duration `json:"took"`
	Pending   int           `json:"pending"`
	Due       int           `json:"due"`
	Malformed []string      `json:"malformed,omitempty"`
	Entries   []EntryReport `json:"entries,omitempty"`
	Err       string        `json:"err,omitempty"`
}

// Sent counts entries marked sent in this cycle.
func (r CycleReport) Sent() int {
	n := 0
	for _, e := range r.Entries {
		if e.Outcome == outcomeSent {
			n++
		}
	}
	return n
}

// Status is a point-in-time view for /stats and /healthz.
type Status struct {
	State     string       `json:"state"`
	Cycles    uint64       `json:"cycles"`
	Failures  uint64       `json:"failures"`
	LastCycle *CycleReport `json:"last_cycle,omitempty"`
	Interval  string       `json:"interval"`
	Tolerance string       `json:"tolerance"`
}

const (
	outcomeSent         = "sent"
	outcomeNoRecipients = "no_recipients"
	outcomeDeactivated  = "deactivated"
)
