package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "tvbot/pkg/logx"
)

type Config struct {
	Enabled bool
	// Timezone is an IANA name. Blank uses the host zone.
	Timezone string
	// HistorySize caps Snapshot.History; 0 keeps 20 runs.
	HistorySize int
}

// Job is one housekeeping task. ctx carries the job timeout.
type Job func(ctx context.Context) error

type jobDef struct {
	name    string
	spec    string // cron form; intervals are stored as "@every <d>"
	timeout time.Duration
	run     Job
	entryID cron.EntryID
	running *atomic.Bool
}

// Service triggers Jobs on a robfig/cron clock. A job whose previous run is
// still going is skipped for that tick.
type Service struct {
	log    logx.Logger
	parser cron.Parser

	mu     sync.Mutex
	cfg    Config
	loc    *time.Location
	c      *cron.Cron
	defs   []jobDef
	ctx    context.Context
	cancel context.CancelFunc

	hmu         sync.Mutex
	history     []RunRecord
	historySize int
}

type RunRecord struct {
	Name    string        `json:"name"`
	Started time.Time     `json:"started"`
	Took    time.Duration `json:"took_ns"`
	Err     string        `json:"err,omitempty"`
	Skipped bool          `json:"skipped,omitempty"`
}

type JobInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout_ns,omitempty"`
	Next    time.Time     `json:"next"`
	Prev    time.Time     `json:"prev"`
	Running bool          `json:"running"`
}

// Snapshot is the scheduler's state as shown on /healthz.
type Snapshot struct {
	Enabled  bool        `json:"enabled"`
	Timezone string      `json:"timezone"`
	Jobs     []JobInfo   `json:"jobs"`
	History  []RunRecord `json:"history,omitempty"`
}
