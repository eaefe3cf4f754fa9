// Package admin implements the administrative actions on recipients and
// schedule entries. Every mutation runs under the dispatch gate, loads the
// store fresh, changes it and saves it back before returning.
package admin

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tvbot/internal/dispatch"
	"tvbot/internal/metrics"
	"tvbot/internal/model"
	"tvbot/internal/schedule"
	"tvbot/internal/storage"
	logx "tvbot/pkg/logx"
)

var (
	ErrNotFound    = dispatch.ErrNotFound
	ErrAlreadySent = dispatch.ErrAlreadySent
	ErrDuplicate   = errors.New("already exists")
	ErrInvalid     = errors.New("invalid input")
)

// DefaultMessageTemplate fills an entry created without a message.
const DefaultMessageTemplate = "📺 {channel}: '{program}' starts now!"

type Config struct {
	Location        *time.Location
	MessageTemplate string
	BackupDir       string
	Retention       time.Duration
	UpcomingDays    int
}

// Dispatcher is the part of the dispatch service admin needs.
type Dispatcher interface {
	Locked(fn func() error) error
	SendNow(ctx context.Context, id string) (dispatch.EntryReport, error)
	Snapshot() dispatch.Status
}

// Actor identifies who triggered an action, for the audit log.
type Actor struct {
	ID       int64
	Username string
}

// System is the actor for scheduled housekeeping.
var System = Actor{Username: "system"}

func (a Actor) name() string {
	if a.Username != "" {
		return a.Username
	}
	if a.ID != 0 {
		return fmt.Sprint(a.ID)
	}
	return "unknown"
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	store storage.Store
	disp  Dispatcher
	log   logx.Logger
	now   func() time.Time
}

func New(cfg Config, store storage.Store, disp Dispatcher, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{store: store, disp: disp, log: log, now: time.Now}
	s.Apply(cfg)
	return s
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) Apply(cfg Config) {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if strings.TrimSpace(cfg.MessageTemplate) == "" {
		cfg.MessageTemplate = DefaultMessageTemplate
	}
	if strings.TrimSpace(cfg.BackupDir) == "" {
		cfg.BackupDir = "backups"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = schedule.DefaultRetention
	}
	if cfg.UpcomingDays <= 0 {
		cfg.UpcomingDays = 7
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// ---- recipients ----

func (s *Service) AddRecipient(ctx context.Context, actor Actor, id model.RecipientID, name string) (model.Recipient, error) {
	if id.IsZero() {
		return model.Recipient{}, fmt.Errorf("%w: recipient id is empty", ErrInvalid)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = model.DefaultRecipientName(id)
	}
	r := model.Recipient{ID: id, Name: name, Active: true}
	err := s.mutateRecipients(ctx, "recipient.add", actor, id.String(), func(doc *model.RecipientDoc) error {
		if doc.Index(id) >= 0 {
			return fmt.Errorf("recipient %s: %w", id, ErrDuplicate)
		}
		doc.Users = append(doc.Users, r)
		return nil
	})
	return r, err
}

func (s *Service) RemoveRecipient(ctx context.Context, actor Actor, id model.RecipientID) (model.Recipient, error) {
	var removed model.Recipient
	err := s.mutateRecipients(ctx, "recipient.remove", actor, id.String(), func(doc *model.RecipientDoc) error {
		i := doc.Index(id)
		if i < 0 {
			return fmt.Errorf("recipient %s: %w", id, ErrNotFound)
		}
		removed = doc.Users[i]
		doc.Users = append(doc.Users[:i], doc.Users[i+1:]...)
		return nil
	})
	return removed, err
}

// ToggleRecipient flips the active flag and returns the updated record.
func (s *Service) ToggleRecipient(ctx context.Context, actor Actor, id model.RecipientID) (model.Recipient, error) {
	var out model.Recipient
	err := s.mutateRecipients(ctx, "recipient.toggle", actor, id.String(), func(doc *model.RecipientDoc) error {
		i := doc.Index(id)
		if i < 0 {
			return fmt.Errorf("recipient %s: %w", id, ErrNotFound)
		}
		doc.Users[i].Active = !doc.Users[i].Active
		out = doc.Users[i]
		return nil
	})
	return out, err
}

func (s *Service) RenameRecipient(ctx context.Context, actor Actor, id model.RecipientID, name string) (model.Recipient, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Recipient{}, fmt.Errorf("%w: name is empty", ErrInvalid)
	}
	var out model.Recipient
	err := s.mutateRecipients(ctx, "recipient.rename", actor, id.String(), func(doc *model.RecipientDoc) error {
		i := doc.Index(id)
		if i < 0 {
			return fmt.Errorf("recipient %s: %w", id, ErrNotFound)
		}
		doc.Users[i].Name = name
		out = doc.Users[i]
		return nil
	})
	return out, err
}

func (s *Service) ListRecipients(ctx context.Context) ([]model.Recipient, error) {
	doc, err := s.store.LoadRecipients(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Users, nil
}

// ActiveCount returns (active, total).
func (s *Service) ActiveCount(ctx context.Context) (int, int, error) {
	doc, err := s.store.LoadRecipients(ctx)
	if err != nil {
		return 0, 0, err
	}
	return len(doc.Active()), len(doc.Users), nil
}

// ---- schedules ----

// NewSchedule is the input of AddSchedule.
type NewSchedule struct {
	Date    string // YYYY-MM-DD
	Hour    int
	Minute  int
	Channel string
	Program string
	Message string
}

func (s *Service) AddSchedule(ctx context.Context, actor Actor, in NewSchedule) (model.ScheduleEntry, error) {
	cfg := s.config()
	in.Date = strings.TrimSpace(in.Date)
	in.Channel = strings.TrimSpace(in.Channel)
	in.Program = strings.TrimSpace(in.Program)
	if _, err := time.ParseInLocation(model.DateLayout, in.Date, cfg.Location); err != nil {
		return model.ScheduleEntry{}, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalid, in.Date)
	}
	if in.Hour < 0 || in.Hour > 23 {
		return model.ScheduleEntry{}, fmt.Errorf("%w: hour %d out of range 0-23", ErrInvalid, in.Hour)
	}
	if in.Minute < 0 || in.Minute > 59 {
		return model.ScheduleEntry{}, fmt.Errorf("%w: minute %d out of range 0-59", ErrInvalid, in.Minute)
	}
	if in.Program == "" {
		return model.ScheduleEntry{}, fmt.Errorf("%w: program name is required", ErrInvalid)
	}
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		msg = strings.NewReplacer("{channel}", in.Channel, "{program}", in.Program).Replace(cfg.MessageTemplate)
	}
	clock := fmt.Sprintf("%02d:%02d", in.Hour, in.Minute)
	e := model.ScheduleEntry{
		ID:          model.EntryID(in.Date, clock, in.Channel, in.Program),
		Date:        in.Date,
		Hour:        in.Hour,
		Minute:      in.Minute,
		Time:        clock,
		Channel:     in.Channel,
		ProgramName: in.Program,
		Message:     msg,
		Active:      true,
		CreatedAt:   s.now().In(cfg.Location).Format(time.RFC3339),
	}
	err := s.mutateSchedules(ctx, "schedule.add", actor, e.ID, func(doc *model.ScheduleDoc) error {
		if doc.Index(e.ID) >= 0 {
			return fmt.Errorf("schedule %s: %w", e.ID, ErrDuplicate)
		}
		doc.Schedules = append(doc.Schedules, e)
		return nil
	})
	return e, err
}

func (s *Service) RemoveSchedule(ctx context.Context, actor Actor, id string) (model.ScheduleEntry, error) {
	var removed model.ScheduleEntry
	err := s.mutateSchedules(ctx, "schedule.remove", actor, id, func(doc *model.ScheduleDoc) error {
		i := doc.Index(id)
		if i < 0 {
			return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
		}
		removed = doc.Schedules[i]
		doc.Schedules = append(doc.Schedules[:i], doc.Schedules[i+1:]...)
		return nil
	})
	return removed, err
}

// ToggleSchedule flips the active flag. A sent entry stays excluded from
// dispatch whatever its active flag says.
func (s *Service) ToggleSchedule(ctx context.Context, actor Actor, id string) (model.ScheduleEntry, error) {
	var out model.ScheduleEntry
	err := s.mutateSchedules(ctx, "schedule.toggle", actor, id, func(doc *model.ScheduleDoc) error {
		i := doc.Index(id)
		if i < 0 {
			return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
		}
		doc.Schedules[i].Active = !doc.Schedules[i].Active
		out = doc.Schedules[i]
		return nil
	})
	return out, err
}

// ResetSent clears the sent flag so the entry can be dispatched again.
func (s *Service) ResetSent(ctx context.Context, actor Actor, id string) (model.ScheduleEntry, error) {
	var out model.ScheduleEntry
	err := s.mutateSchedules(ctx, "schedule.reset_sent", actor, id, func(doc *model.ScheduleDoc) error {
		i := doc.Index(id)
		if i < 0 {
			return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
		}
		e := &doc.Schedules[i]
		if !e.Sent {
			return fmt.Errorf("%w: schedule %s was never sent", ErrInvalid, id)
		}
		e.Sent = false
		e.SentAt = ""
		e.EmptyRetries = 0
		out = *e
		return nil
	})
	return out, err
}

func (s *Service) ListSchedules(ctx context.Context) ([]model.ScheduleEntry, error) {
	doc, err := s.store.LoadSchedules(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Schedules, nil
}

// Upcoming lists pending entries from today through today+days; days <= 0
// uses the configured default.
func (s *Service) Upcoming(ctx context.Context, days int) ([]model.ScheduleEntry, error) {
	cfg := s.config()
	if days <= 0 {
		days = cfg.UpcomingDays
	}
	doc, err := s.store.LoadSchedules(ctx)
	if err != nil {
		return nil, err
	}
	return schedule.Upcoming(doc.Schedules, s.now(), days, cfg.Location), nil
}

// PurgeSent removes every sent entry and returns how many were removed.
func (s *Service) PurgeSent(ctx context.Context, actor Actor) (int, error) {
	var n int
	err := s.mutateSchedules(ctx, "schedule.purge_sent", actor, "", func(doc *model.ScheduleDoc) error {
		doc.Schedules, n = schedule.PurgeSent(doc.Schedules)
		if n == 0 {
			return errUnchanged
		}
		return nil
	})
	return n, err
}

// ClearSchedules removes every entry.
func (s *Service) ClearSchedules(ctx context.Context, actor Actor) (int, error) {
	var n int
	err := s.mutateSchedules(ctx, "schedule.clear", actor, "", func(doc *model.ScheduleDoc) error {
		n = len(doc.Schedules)
		doc.Schedules = []model.ScheduleEntry{}
		return nil
	})
	return n, err
}

// Cleanup drops entries older than the retention window and malformed ones.
func (s *Service) Cleanup(ctx context.Context, actor Actor) ([]model.ScheduleEntry, error) {
	cfg := s.config()
	var removed []model.ScheduleEntry
	err := s.mutateSchedules(ctx, "schedule.cleanup", actor, "", func(doc *model.ScheduleDoc) error {
		doc.Schedules, removed = schedule.Prune(doc.Schedules, s.now(), cfg.Retention, cfg.Location)
		if len(removed) == 0 {
			return errUnchanged
		}
		return nil
	})
	if len(removed) > 0 {
		s.log.Info("schedule cleanup removed entries", logx.Int("removed", len(removed)), logx.String("actor", actor.name()))
	}
	return removed, err
}

// SendNow delivers one entry immediately through the dispatch service.
func (s *Service) SendNow(ctx context.Context, actor Actor, id string) (dispatch.EntryReport, error) {
	rep, err := s.disp.SendNow(ctx, id)
	s.record(ctx, "schedule.send_now", actor, id, err, func(e *storage.AuditEntry) {
		e.OK = rep.Successes
		e.Fail = rep.Recipients - rep.Successes
	})
	return rep, err
}

// ---- maintenance ----

// Backup writes backup_YYYYmmdd_HHMMSS.json with both stores and returns its path.
func (s *Service) Backup(ctx context.Context, actor Actor) (string, error) {
	cfg := s.config()
	now := s.now().In(cfg.Location)
	path := filepath.Join(cfg.BackupDir, "backup_"+now.Format("20060102_150405")+".json")
	ref := uuid.NewString()

	err := s.disp.Locked(func() error {
		users, err := s.store.LoadRecipients(ctx)
		if err != nil {
			return err
		}
		schedules, err := s.store.LoadSchedules(ctx)
		if err != nil {
			return err
		}
		return storage.WriteJSON(path, model.Backup{
			Schedules:  schedules.Schedules,
			Users:      users.Users,
			BackupTime: now.Format(time.RFC3339),
		})
	})
	s.record(ctx, "backup", actor, path, err, func(e *storage.AuditEntry) { e.Ref = ref })
	if err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}
	return path, nil
}

// Stats are the totals shown on /stats.
type Stats struct {
	Schedules        int
	Pending          int
	Sent             int
	Inactive         int
	Recipients       int
	ActiveRecipients int
	Dispatch         dispatch.Status
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	users, err := s.store.LoadRecipients(ctx)
	if err != nil {
		return Stats{}, err
	}
	doc, err := s.store.LoadSchedules(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Schedules:        len(doc.Schedules),
		Recipients:       len(users.Users),
		ActiveRecipients: len(users.Active()),
		Dispatch:         s.disp.Snapshot(),
	}
	for _, e := range doc.Schedules {
		switch {
		case e.Sent:
			st.Sent++
		case e.Active:
			st.Pending++
		default:
			st.Inactive++
		}
	}
	return st, nil
}

// ---- helpers ----

// errUnchanged skips the save when a mutation found nothing to do.
var errUnchanged = errors.New("unchanged")

func (s *Service) mutateRecipients(ctx context.Context, action string, actor Actor, target string, fn func(doc *model.RecipientDoc) error) error {
	err := s.disp.Locked(func() error {
		doc, err := s.store.LoadRecipients(ctx)
		if err != nil {
			return err
		}
		if err := fn(&doc); err != nil {
			return err
		}
		return s.store.SaveRecipients(ctx, doc)
	})
	s.record(ctx, action, actor, target, err, nil)
	return err
}

func (s *Service) mutateSchedules(ctx context.Context, action string, actor Actor, target string, fn func(doc *model.ScheduleDoc) error) error {
	err := s.disp.Locked(func() error {
		doc, err := s.store.LoadSchedules(ctx)
		if err != nil {
			return err
		}
		if err := fn(&doc); err != nil {
			return err
		}
		return s.store.SaveSchedules(ctx, doc)
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	s.record(ctx, action, actor, target, err, nil)
	return err
}

func (s *Service) record(ctx context.Context, action string, actor Actor, target string, err error, fill func(e *storage.AuditEntry)) {
	metrics.IncrementAdmin(action, err)
	e := storage.AuditEntry{
		At:      s.now(),
		ActorID: actor.ID,
		Actor:   actor.name(),
		Action:  action,
		Target:  target,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if fill != nil {
		fill(&e)
	}
	if aerr := s.store.AppendAudit(ctx, e); aerr != nil {
		s.log.Warn("audit append failed", logx.String("action", action), logx.Err(aerr))
	}
	fields := []logx.Field{logx.String("action", action), logx.String("actor", actor.name()), logx.String("target", target)}
	if err != nil {
		s.log.Warn("admin action failed", append(fields, logx.Err(err))...)
		return
	}
	s.log.Info("admin action", fields...)
}
