// Package dispatch runs the periodic due-entry scan and the at-most-once
// deliver → mark sent → persist sequence.
//
// The service owns a gate mutex. Every cycle and every administrative
// mutation (see package admin) runs while holding it, so this process is the
// only writer of the stores.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tvbot/internal/delivery"
	"tvbot/internal/eventbus"
	"tvbot/internal/metrics"
	"tvbot/internal/model"
	rtsup "tvbot/internal/runtime/supervisor"
	"tvbot/internal/schedule"
	"tvbot/internal/storage"
	logx "tvbot/pkg/logx"
)

type Service struct {
	gate sync.Mutex

	mu   sync.Mutex
	cfg  Config
	last *CycleReport
	sup  *rtsup.Supervisor

	deps  Deps
	log   logx.Logger
	reset chan struct{}

	state    atomic.Int32
	cycles   atomic.Uint64
	failures atomic.Uint64
}

func New(cfg Config, deps Deps) *Service {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{
		cfg:   cfg.withDefaults(),
		deps:  deps,
		log:   deps.Log,
		reset: make(chan struct{}, 1),
	}
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Apply swaps the config. A changed interval takes effect at the next tick.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	changed := cfg.Interval != s.cfg.Interval
	s.cfg = cfg
	s.mu.Unlock()
	if changed {
		select {
		case s.reset <- struct{}{}:
		default:
		}
	}
}

func (s *Service) State() State { return State(s.state.Load()) }

func (s *Service) Snapshot() Status {
	cfg := s.config()
	s.mu.Lock()
	var last *CycleReport
	if s.last != nil {
		cp := *s.last
		last = &cp
	}
	s.mu.Unlock()
	return Status{
		State:     s.State().String(),
		Cycles:    s.cycles.Load(),
		Failures:  s.failures.Load(),
		LastCycle: last,
		Interval:  cfg.Interval.String(),
		Tolerance: cfg.Tolerance.String(),
	}
}

// Locked runs fn while holding the gate. Store mutations outside a cycle
// must go through here.
func (s *Service) Locked(fn func() error) error {
	s.gate.Lock()
	defer s.gate.Unlock()
	return fn()
}

// Start launches the loop. Stop ends it at the next cycle boundary.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.sup != nil {
		s.mu.Unlock()
		return
	}
	sup := rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.sup = sup
	cfg := s.cfg
	s.mu.Unlock()

	sup.GoRestart("dispatch.loop", s.loop,
		rtsup.WithRestartBackoff(time.Second, 30*time.Second),
		rtsup.WithPublishFirstError(true),
	)
	s.log.Info("dispatch loop started", logx.Duration("interval", cfg.Interval), logx.Duration("tolerance", cfg.Tolerance), logx.String("tz", cfg.Location.String()))
}

// Stop cancels the loop and waits for an in-flight cycle to finish, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		s.log.Warn("dispatch stop timed out; cycle still running", logx.String("state", s.State().String()))
	}
	s.log.Info("dispatch loop stopped", logx.Uint64("cycles", s.cycles.Load()))
	return err
}

func (s *Service) loop(ctx context.Context) error {
	if s.config().RunOnStart {
		s.tick(ctx)
	}
	t := time.NewTicker(s.config().Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.reset:
			t.Reset(s.config().Interval)
		case <-t.C:
			// Shutdown wins over a tick that raced with it.
			if ctx.Err() != nil {
				return nil
			}
			s.tick(ctx)
		}
	}
}

// tick runs one cycle detached from shutdown: a started cycle always finishes.
func (s *Service) tick(ctx context.Context) {
	rep, err := s.RunCycle(context.WithoutCancel(ctx), s.deps.Now())
	if err != nil {
		s.log.Error("dispatch cycle failed", logx.String("cycle", rep.ID), logx.Err(err))
	}
}

// RunCycle loads the schedule store, dispatches every due entry in order and
// persists each mark-sent before the next entry is delivered. It never panics;
// a panic inside the cycle is returned as an error.
func (s *Service) RunCycle(ctx context.Context, now time.Time) (rep CycleReport, err error) {
	s.gate.Lock()
	defer s.gate.Unlock()
	s.state.Store(int32(StateDispatching))
	defer s.state.Store(int32(StateIdle))

	cfg := s.config()
	start := time.Now()
	rep = CycleReport{ID: uuid.NewString(), Now: now}
	log := s.log.With(logx.String("cycle", rep.ID))

	defer func() {
		outcome := "ok"
		if r := recover(); r != nil {
			outcome = "panic"
			err = fmt.Errorf("panic in dispatch cycle: %v", r)
			log.Error("dispatch cycle panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		} else if err != nil {
			outcome = "error"
		}
		rep.Took = time.Since(start)
		if err != nil {
			rep.Err = err.Error()
			s.failures.Add(1)
		}
		s.cycles.Add(1)
		metrics.RecordCycle(outcome, rep.Took)
		s.record(rep)
	}()

	doc, err := s.loadSchedules(ctx)
	if err != nil {
		return rep, fmt.Errorf("load schedules: %w", err)
	}

	res := schedule.FindDue(doc.Schedules, now, cfg.Tolerance, cfg.Location)
	for _, m := range res.Malformed {
		rep.Malformed = append(rep.Malformed, m.ID)
		metrics.IncrementEntry("malformed")
		log.Warn("malformed schedule entry skipped", logx.String("entry", m.ID), logx.Err(m.Err))
	}
	for _, e := range doc.Schedules {
		if e.Pending() {
			rep.Pending++
		}
	}
	metrics.PendingEntries.Set(float64(rep.Pending))
	rep.Due = len(res.Due)

	for _, due := range res.Due {
		er, err := s.dispatchEntry(ctx, cfg, &doc, due, now, log)
		if er.ID != "" {
			rep.Entries = append(rep.Entries, er)
		}
		if err != nil {
			// The store on disk is now the source of truth again; stop here
			// and let the next cycle retry.
			return rep, err
		}
	}

	if rep.Due > 0 {
		log.Info("dispatch cycle done", logx.Int("due", rep.Due), logx.Int("sent", rep.Sent()), logx.Duration("took", time.Since(start)))
	} else {
		log.Debug("dispatch cycle done", logx.Int("pending", rep.Pending))
	}
	return rep, nil
}

// dispatchEntry handles one due entry. doc is replaced only after a successful save.
func (s *Service) dispatchEntry(ctx context.Context, cfg Config, doc *model.ScheduleDoc, due model.ScheduleEntry, now time.Time, log logx.Logger) (EntryReport, error) {
	er := EntryReport{ID: due.ID}
	log = log.With(logx.String("entry", due.ID))

	users, err := s.loadRecipients(ctx)
	if err != nil {
		return er, fmt.Errorf("load recipients: %w", err)
	}
	active := users.Active()
	er.Recipients = len(active)

	idx := doc.Index(due.ID)
	if idx < 0 {
		return er, fmt.Errorf("entry %q vanished from loaded store", due.ID)
	}

	if len(active) == 0 {
		er.Outcome = outcomeNoRecipients
		metrics.IncrementEntry(outcomeNoRecipients)
		if cfg.MaxEmptyRetries <= 0 {
			log.Warn("due entry has no active recipients; will retry next cycle")
			s.publish(EventNoRecipients, er)
			return er, nil
		}
		next := doc.Clone()
		e := &next.Schedules[idx]
		e.EmptyRetries++
		if e.EmptyRetries >= cfg.MaxEmptyRetries {
			e.Active = false
			er.Outcome = outcomeDeactivated
			metrics.IncrementEntry(outcomeDeactivated)
		}
		if err := s.saveSchedules(ctx, next); err != nil {
			return er, s.saveFailed(er, err, log)
		}
		*doc = next
		if er.Outcome == outcomeDeactivated {
			log.Warn("due entry deactivated after repeated empty recipient sets", logx.Int("empty_retries", e.EmptyRetries))
		} else {
			log.Warn("due entry has no active recipients; will retry next cycle", logx.Int("empty_retries", e.EmptyRetries))
		}
		s.publish(EventNoRecipients, er)
		return er, nil
	}

	// Timeouts are per recipient and enforced by the client.
	results := s.deps.Client.Deliver(ctx, due.Message, active)
	er.Successes = delivery.Successes(results)
	for _, r := range results {
		if !r.Success {
			log.Warn("recipient delivery failed", logx.String("recipient", r.RecipientID.String()), logx.String("err", r.Err))
		}
	}

	next := doc.Clone()
	next.Schedules[idx].MarkSent(now)
	if err := s.saveSchedules(ctx, next); err != nil {
		return er, s.saveFailed(er, err, log)
	}
	*doc = next
	er.Outcome = outcomeSent
	metrics.IncrementEntry(outcomeSent)

	log.Info("entry sent", logx.Int("recipients", er.Recipients), logx.Int("ok", er.Successes))
	s.audit(ctx, storage.AuditEntry{
		Actor:  "dispatch",
		Action: EventSent,
		Target: due.ID,
		OK:     er.Successes,
		Fail:   er.Recipients - er.Successes,
	})
	s.publish(EventSent, er)
	return er, nil
}

func (s *Service) saveFailed(er EntryReport, err error, log logx.Logger) error {
	metrics.IncrementEntry("save_failed")
	log.Error("schedule store save failed; change not committed", logx.Err(err))
	s.publish(EventSaveFailed, er)
	return fmt.Errorf("save schedules after %q: %w", er.ID, err)
}

// SendNow delivers one entry regardless of its due window, with the same
// deliver → mark → persist discipline as a cycle.
func (s *Service) SendNow(ctx context.Context, id string) (EntryReport, error) {
	s.gate.Lock()
	defer s.gate.Unlock()

	doc, err := s.loadSchedules(ctx)
	if err != nil {
		return EntryReport{}, fmt.Errorf("load schedules: %w", err)
	}
	idx := doc.Index(id)
	if idx < 0 {
		return EntryReport{}, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	if doc.Schedules[idx].Sent {
		return EntryReport{}, fmt.Errorf("schedule %s: %w", id, ErrAlreadySent)
	}

	users, err := s.loadRecipients(ctx)
	if err != nil {
		return EntryReport{}, fmt.Errorf("load recipients: %w", err)
	}
	if len(users.Active()) == 0 {
		return EntryReport{ID: id, Outcome: outcomeNoRecipients}, ErrNoRecipients
	}

	cfg := s.config()
	cfg.MaxEmptyRetries = 0
	log := s.log.With(logx.String("trigger", "manual"))
	return s.dispatchEntry(ctx, cfg, &doc, doc.Schedules[idx], s.deps.Now(), log)
}

func (s *Service) loadSchedules(ctx context.Context) (model.ScheduleDoc, error) {
	start := time.Now()
	doc, err := s.deps.Schedules.LoadSchedules(ctx)
	metrics.RecordStoreOp("load", "schedules", err, time.Since(start))
	return doc, err
}

func (s *Service) saveSchedules(ctx context.Context, doc model.ScheduleDoc) error {
	start := time.Now()
	err := s.deps.Schedules.SaveSchedules(ctx, doc)
	metrics.RecordStoreOp("save", "schedules", err, time.Since(start))
	return err
}

func (s *Service) loadRecipients(ctx context.Context) (model.RecipientDoc, error) {
	start := time.Now()
	doc, err := s.deps.Recipients.LoadRecipients(ctx)
	metrics.RecordStoreOp("load", "recipients", err, time.Since(start))
	return doc, err
}

func (s *Service) record(rep CycleReport) {
	s.mu.Lock()
	s.last = &rep
	s.mu.Unlock()
	s.publish(EventCycle, rep)
}

func (s *Service) audit(ctx context.Context, e storage.AuditEntry) {
	if s.deps.Audit == nil {
		return
	}
	if err := s.deps.Audit.AppendAudit(ctx, e); err != nil {
		s.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}

func (s *Service) publish(typ string, data any) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}
