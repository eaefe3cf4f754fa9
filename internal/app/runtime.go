package app

import (
	"fmt"
	"strings"
	"time"

	"tvbot/internal/admin"
	"tvbot/internal/bot"
	"tvbot/internal/config"
	"tvbot/internal/delivery"
	"tvbot/internal/dispatch"
	"tvbot/internal/observability/ops"
	"tvbot/internal/storage"
	"tvbot/internal/task/scheduler"
	telegram "tvbot/internal/transport/telegram/adapter"
	logx "tvbot/pkg/logx"
	"tvbot/pkg/tgui"
)

const (
	defaultCleanupSpec = "@hourly"
	cleanupTimeout     = 2 * time.Minute
	backupTimeout      = 5 * time.Minute
)

// Runtime is the typed form of a Config, one value per component.
type Runtime struct {
	Owners   []int64
	Location *time.Location

	Log      logx.Config
	Storage  storage.Config
	Telegram telegram.Config
	Dispatch dispatch.Config
	Delivery delivery.Config
	Admin    admin.Config
	Bot      bot.Config
	Ops      ops.Config

	Scheduler   scheduler.Config
	CleanupSpec string
	BackupSpec  string

	Notify bool
}

// Resolve validates durations and zones and maps cfg onto component configs.
// Component defaults still apply to zero values.
func Resolve(cfg *config.Config) (Runtime, error) {
	var rt Runtime
	if cfg == nil {
		return rt, nil
	}
	var err error
	parse := func(path, raw string) time.Duration {
		if err != nil {
			return 0
		}
		var d time.Duration
		d, err = config.ParseDurationField(path, raw)
		return d
	}

	rt.Owners = append([]int64(nil), cfg.Telegram.OwnerUserIDs...)
	loc, lerr := config.LoadLocation("dispatch.timezone", cfg.Dispatch.Timezone)
	if lerr != nil {
		return rt, lerr
	}
	rt.Location = loc

	logChat := cfg.Logging.Telegram.ChatID
	if logChat == 0 && len(rt.Owners) > 0 {
		logChat = rt.Owners[0]
	}
	rt.Log = logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     logChat,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}

	rt.Storage = storage.Config{
		Driver:          strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Dir:             strings.TrimSpace(cfg.Storage.Dir),
		UsersFile:       strings.TrimSpace(cfg.Storage.UsersFile),
		SchedulesFile:   strings.TrimSpace(cfg.Storage.SchedulesFile),
		Path:            strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout:     parse("storage.busy_timeout", cfg.Storage.BusyTimeout),
		TolerateCorrupt: cfg.Storage.TolerateCorrupt,
	}

	rt.Telegram = telegram.Config{
		Token:       strings.TrimSpace(cfg.Telegram.Token),
		PollTimeout: parse("telegram.poll_timeout", cfg.Telegram.PollTimeout),
		APIURL:      strings.TrimSpace(cfg.Telegram.APIURL),
	}

	rt.Dispatch = dispatch.Config{
		Interval:        parse("dispatch.interval", cfg.Dispatch.Interval),
		Tolerance:       parse("dispatch.tolerance", cfg.Dispatch.Tolerance),
		Location:        loc,
		MaxEmptyRetries: cfg.Dispatch.MaxEmptyRetries,
		RunOnStart:      cfg.Dispatch.RunOnStart,
	}
	if strings.TrimSpace(cfg.Dispatch.Tolerance) == "" {
		rt.Dispatch.Tolerance = 60 * time.Second
	}
	if err == nil && rt.Dispatch.MaxEmptyRetries > rt.Dispatch.DueCycles() {
		return rt, fmt.Errorf("dispatch.max_empty_retries: %d exceeds the %d cycles an entry stays due",
			rt.Dispatch.MaxEmptyRetries, rt.Dispatch.DueCycles())
	}

	rt.Delivery = delivery.Config{
		RatePerSec:     cfg.Delivery.RatePerSec,
		RetryMax:       cfg.Delivery.RetryMax,
		Workers:        cfg.Delivery.Workers,
		PerSendTimeout: parse("delivery.per_send_timeout", cfg.Delivery.PerSendTimeout),
		ParseMode:      parseMode(cfg.Delivery.ParseMode),
		DisablePreview: cfg.Delivery.DisablePreview,
	}

	rt.Admin = admin.Config{
		Location:        loc,
		MessageTemplate: cfg.Admin.MessageTemplate,
		BackupDir:       strings.TrimSpace(cfg.Admin.BackupDir),
		Retention:       parse("admin.retention", cfg.Admin.Retention),
		UpcomingDays:    cfg.Admin.UpcomingDays,
	}

	rt.Bot = bot.Config{Owners: rt.Owners}

	rt.Ops = ops.Config{
		Enabled:       cfg.Ops.Enabled,
		Addr:          strings.TrimSpace(cfg.Ops.Addr),
		Token:         strings.TrimSpace(cfg.Ops.Token),
		AllowInsecure: cfg.Ops.AllowInsecure,
		Pprof:         cfg.Ops.Pprof,
		ReadTimeout:   parse("ops.read_timeout", cfg.Ops.ReadTimeout),
		WriteTimeout:  parse("ops.write_timeout", cfg.Ops.WriteTimeout),
	}
	if rt.Ops.ReadTimeout <= 0 {
		rt.Ops.ReadTimeout = 10 * time.Second
	}
	if rt.Ops.WriteTimeout <= 0 {
		// /debug/pprof/profile streams for 30s by default
		rt.Ops.WriteTimeout = 60 * time.Second
	}

	rt.Scheduler = scheduler.Config{
		Enabled:     cfg.Housekeeping.Enabled,
		Timezone:    loc.String(),
		HistorySize: cfg.Housekeeping.HistorySize,
	}
	rt.CleanupSpec = strings.TrimSpace(cfg.Housekeeping.CleanupSpec)
	if rt.CleanupSpec == "" {
		rt.CleanupSpec = defaultCleanupSpec
	}
	rt.BackupSpec = strings.TrimSpace(cfg.Housekeeping.BackupSpec)

	rt.Notify = cfg.Notify.Enabled
	return rt, err
}

// parseMode maps the config spelling to Telegram's; "none" sends plain text.
func parseMode(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "HTML":
		return tgui.ParseModeHTML
	case "MARKDOWN":
		return "Markdown"
	case "MARKDOWNV2":
		return "MarkdownV2"
	default:
		return ""
	}
}
