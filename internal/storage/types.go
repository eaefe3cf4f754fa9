package storage

import (
	"context"
	"errors"
	"time"

	"tvbot/internal/model"
)

var (
	// ErrCorrupt marks a store file or row set that exists but cannot be decoded.
	ErrCorrupt = errors.New("store is corrupt")
	ErrClosed  = errors.New("store closed")
)

// Config configures storage.
//
// Driver values:
//   - "file" (default): Dir/UsersFile and Dir/SchedulesFile
//   - "sqlite": database at Path
type Config struct {
	Driver        string
	Dir           string
	UsersFile     string
	SchedulesFile string
	Path          string        // sqlite only
	BusyTimeout   time.Duration // sqlite only; 0 means default

	// TolerateCorrupt loads an undecodable file as an empty store (after moving
	// it aside) instead of failing.
	TolerateCorrupt bool
}

const (
	DefaultUsersFile     = "users.json"
	DefaultSchedulesFile = "tv_schedules.json"
	DefaultSQLitePath    = "tvbot.db"
)

type RecipientStore interface {
	LoadRecipients(ctx context.Context) (model.RecipientDoc, error)
	SaveRecipients(ctx context.Context, doc model.RecipientDoc) error
}

type ScheduleStore interface {
	LoadSchedules(ctx context.Context) (model.ScheduleDoc, error)
	SaveSchedules(ctx context.Context, doc model.ScheduleDoc) error
}

// Store bundles both stores with the audit log.
type Store interface {
	RecipientStore
	ScheduleStore
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// AuditEntry records an operator action or a dispatch send.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time `json:"at"`
	ActorID int64     `json:"actor_id,omitempty"`
	Actor   string    `json:"actor,omitempty"`
	Action  string    `json:"action"`
	Target  string    `json:"target,omitempty"`
	OK      int       `json:"ok,omitempty"`
	Fail    int       `json:"fail,omitempty"`
	Error   string    `json:"error,omitempty"`
	Ref     string    `json:"ref,omitempty"` // cycle or backup correlation id
}
