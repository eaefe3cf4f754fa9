package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"tvbot/internal/storage"
	"tvbot/internal/task/scheduler"
	logx "tvbot/pkg/logx"
)

// Validate checks the whole document and reports every problem at once.
// requireToken is false for commands that never talk to Telegram.
func (c *Config) Validate(requireToken bool) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	durations := func(fields ...[2]string) {
		for _, f := range fields {
			_, err := ParseDurationField(f[0], f[1])
			add(err)
		}
	}

	if requireToken && strings.TrimSpace(c.Telegram.Token) == "" {
		add(fmt.Errorf("telegram.token: required (or set %s)", EnvTelegramToken))
	}
	if len(c.Telegram.OwnerUserIDs) == 0 {
		add(fmt.Errorf("telegram.owner_user_ids: at least one owner required (or set %s)", EnvOwnerIDs))
	}
	for _, id := range c.Telegram.OwnerUserIDs {
		if id <= 0 {
			add(fmt.Errorf("telegram.owner_user_ids: invalid id %d", id))
		}
	}

	if !logx.ValidLevel(c.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if !logx.ValidLevel(c.Logging.Telegram.MinLevel) {
		add(fmt.Errorf("logging.telegram.min_level: unknown level %q", c.Logging.Telegram.MinLevel))
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		add(errors.New("logging.file.path: required when file logging is enabled"))
	}
	if c.Logging.Telegram.RatePerSec < 0 {
		add(errors.New("logging.telegram.rate_per_sec: must be >= 0"))
	}

	if !storage.ValidDriver(c.Storage.Driver) {
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}

	durations(
		[2]string{"telegram.poll_timeout", c.Telegram.PollTimeout},
		[2]string{"storage.busy_timeout", c.Storage.BusyTimeout},
		[2]string{"dispatch.interval", c.Dispatch.Interval},
		[2]string{"dispatch.tolerance", c.Dispatch.Tolerance},
		[2]string{"delivery.per_send_timeout", c.Delivery.PerSendTimeout},
		[2]string{"admin.retention", c.Admin.Retention},
		[2]string{"ops.read_timeout", c.Ops.ReadTimeout},
		[2]string{"ops.write_timeout", c.Ops.WriteTimeout},
	)
	if d, err := ParseDurationField("dispatch.interval", c.Dispatch.Interval); err == nil && d > 0 && d < 100*time.Millisecond {
		add(errors.New("dispatch.interval: must be at least 100ms"))
	}
	_, err := LoadLocation("dispatch.timezone", c.Dispatch.Timezone)
	add(err)
	if c.Dispatch.MaxEmptyRetries < 0 {
		add(errors.New("dispatch.max_empty_retries: must be >= 0"))
	}

	if c.Delivery.RatePerSec < 0 {
		add(errors.New("delivery.rate_per_sec: must be >= 0"))
	}
	if c.Delivery.RetryMax < 0 {
		add(errors.New("delivery.retry_max: must be >= 0"))
	}
	if c.Delivery.Workers < 0 {
		add(errors.New("delivery.workers: must be >= 0"))
	}
	switch strings.ToUpper(strings.TrimSpace(c.Delivery.ParseMode)) {
	case "", "HTML", "MARKDOWN", "MARKDOWNV2", "NONE":
	default:
		add(fmt.Errorf("delivery.parse_mode: unknown mode %q", c.Delivery.ParseMode))
	}

	if c.Admin.UpcomingDays < 0 {
		add(errors.New("admin.upcoming_days: must be >= 0"))
	}

	if c.Housekeeping.Enabled {
		if s := strings.TrimSpace(c.Housekeeping.CleanupSpec); s != "" {
			if _, err := scheduler.ParseSchedule(s); err != nil {
				add(fmt.Errorf("housekeeping.cleanup_spec: %w", err))
			}
		}
		if s := strings.TrimSpace(c.Housekeeping.BackupSpec); s != "" {
			if _, err := scheduler.ParseSchedule(s); err != nil {
				add(fmt.Errorf("housekeeping.backup_spec: %w", err))
			}
		}
	}
	if c.Housekeeping.HistorySize < 0 {
		add(errors.New("housekeeping.history_size: must be >= 0"))
	}

	return errors.Join(errs...)
}
