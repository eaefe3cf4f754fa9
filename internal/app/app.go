package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"tvbot/internal/admin"
	"tvbot/internal/bot"
	"tvbot/internal/config"
	"tvbot/internal/delivery"
	"tvbot/internal/dispatch"
	"tvbot/internal/eventbus"
	"tvbot/internal/observability/ops"
	rtsup "tvbot/internal/runtime/supervisor"
	"tvbot/internal/storage"
	"tvbot/internal/task/scheduler"
	kit "tvbot/internal/transport"
	telegram "tvbot/internal/transport/telegram/adapter"
	logx "tvbot/pkg/logx"
	"tvbot/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store

	adapter *telegram.Adapter
	bcast   *delivery.Broadcaster
	disp    *dispatch.Service
	admin   *admin.Service
	cmdm    *bot.Manager
	notif   *bot.Notifier
	sched   *scheduler.Service
	ops     *ops.Service

	rt       atomic.Pointer[Runtime]
	notifyOn atomic.Bool
	started  time.Time

	updates chan kit.Update
}

// New builds every component from the manager's current config, loading it
// first when nothing is committed yet.
func New(cfgm *config.Manager) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		var err error
		if cfg, err = cfgm.Load(); err != nil {
			return nil, err
		}
	}
	rt, err := Resolve(cfg)
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(rt.Telegram, bootLog)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	// logx.New applies rt.Log right away; the sink chat is already resolved.
	logSvc, log := logx.New(rt.Log, ad)

	store, err := storage.Open(rt.Storage, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	bcast := delivery.NewBroadcaster(rt.Delivery, ad, log.With(logx.String("comp", "delivery")))
	disp := dispatch.New(rt.Dispatch, dispatch.Deps{
		Recipients: store,
		Schedules:  store,
		Client:     bcast,
		Audit:      store,
		Bus:        bus,
		Log:        log,
	})
	adm := admin.New(rt.Admin, store, disp, log.With(logx.String("comp", "admin")))

	cmdm := bot.NewManager(rt.Bot, ad, log)
	cmdm.SetCommands(bot.Commands(adm, rt.Location))

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		bcast:   bcast,
		disp:    disp,
		admin:   adm,
		cmdm:    cmdm,
		sched:   scheduler.New(rt.Scheduler, log.With(logx.String("comp", "scheduler"))),
		updates: make(chan kit.Update, 256),
	}
	a.rt.Store(&rt)
	a.notifyOn.Store(rt.Notify)
	a.notif = bot.NewNotifier(bus, ad, a.notifyTargets, log)
	a.ops = ops.New(rt.Ops, a.health, log)
	if err := a.registerJobs(rt); err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) runtime() Runtime { return *a.rt.Load() }

// Admin exposes the administrative service, mainly for the CLI.
func (a *App) Admin() *admin.Service { return a.admin }

func (a *App) notifyTargets() []int64 {
	if !a.notifyOn.Load() {
		return nil
	}
	return a.cmdm.Owners()
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := Resolve(cfg)
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.cmdm.UpdateMenu(a.sup.Context())

	a.sup.Go("bot.commands", func(c context.Context) error {
		return a.cmdm.Run(c, a.updates)
	})
	a.sup.Go("bot.notifier", a.notif.Run)

	a.disp.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())
	if err := a.ops.Start(a.sup.Context()); err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				systemd.Reloading()
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
				systemd.Ready()
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		systemd.Watchdog(c, a.healthy, a.log)
	})

	rt := a.runtime()
	a.log.Info("app started",
		logx.Int("owners", len(rt.Owners)),
		logx.String("timezone", rt.Location.String()),
		logx.Bool("housekeeping", rt.Scheduler.Enabled),
		logx.Bool("notify", rt.Notify),
	)
	systemd.Ready()
	systemd.Status("dispatching")
	return nil
}

// applyConfig pushes a validated reload into the live components.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	rt, err := Resolve(newCfg)
	if err != nil {
		a.log.Warn("config reload not applicable; keeping previous", logx.Err(err))
		return
	}
	if restart := config.RestartRequired(oldCfg, newCfg); len(restart) > 0 {
		a.log.Warn("some changes need a restart to take effect", logx.Strings("settings", restart))
	}
	prev := a.runtime()
	a.rt.Store(&rt)

	a.logs.Apply(rt.Log)
	a.cmdm.SetOwners(rt.Owners)
	a.notifyOn.Store(rt.Notify)
	a.disp.Apply(rt.Dispatch)
	a.bcast.Apply(rt.Delivery)
	a.admin.Apply(rt.Admin)
	if prev.Location.String() != rt.Location.String() {
		a.cmdm.SetCommands(bot.Commands(a.admin, rt.Location))
	}

	a.sched.Apply(rt.Scheduler)
	if err := a.registerJobs(rt); err != nil {
		a.log.Warn("housekeeping jobs not updated", logx.Err(err))
	}

	if err := a.ops.Reconfigure(ctx, rt.Ops); err != nil {
		a.log.Warn("ops endpoint not reconfigured", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in dependency order: intake first, then the
// dispatch loop at its cycle boundary, then storage.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	systemd.Stopping()

	// a cycle in flight finishes on its own detached context
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("adapter", 2*time.Second, a.adapter.Stop)
	step("dispatch", 45*time.Second, a.disp.Stop)
	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("ops", 2*time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// Health is the /healthz payload.
type Health struct {
	Status     string              `json:"status"`
	Uptime     string              `json:"uptime"`
	Dispatch   dispatch.Status     `json:"dispatch"`
	Scheduler  *scheduler.Snapshot `json:"housekeeping,omitempty"`
	BusDropped uint64              `json:"bus_dropped"`
}

var errStale = errors.New("dispatch loop stalled")

func (a *App) health() (any, error) {
	st := a.disp.Snapshot()
	h := Health{
		Status:     "ok",
		Uptime:     time.Since(a.started).Truncate(time.Second).String(),
		Dispatch:   st,
		BusDropped: a.bus.Dropped(),
	}
	if a.sched.Enabled() {
		snap := a.sched.Snapshot()
		h.Scheduler = &snap
	}
	if err := checkDispatch(st, a.runtime().Dispatch.Interval, a.started, time.Now()); err != nil {
		h.Status = "degraded"
		return h, err
	}
	return h, nil
}

func (a *App) healthy() bool {
	return checkDispatch(a.disp.Snapshot(), a.runtime().Dispatch.Interval, a.started, time.Now()) == nil
}

// checkDispatch fails when no cycle completed within three intervals while
// the loop is idle, or the last cycle reported an error.
func checkDispatch(st dispatch.Status, interval time.Duration, started, now time.Time) error {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if st.State == dispatch.StateDispatching.String() {
		return nil
	}
	last := started
	if st.LastCycle != nil {
		if st.LastCycle.Err != "" {
			return errors.New("last cycle failed: " + st.LastCycle.Err)
		}
		last = st.LastCycle.Now.Add(st.LastCycle.Took)
	}
	if now.Sub(last) > 3*interval {
		return errStale
	}
	return nil
}
