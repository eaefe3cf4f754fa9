package config

// Config is the on-disk configuration (JSON or YAML). Unknown keys are
// rejected. Durations are Go duration strings ("30s", "2m").
type Config struct {
	Telegram     TelegramConfig     `json:"telegram"`
	Logging      LoggingConfig      `json:"logging"`
	Storage      StorageConfig      `json:"storage"`
	Dispatch     DispatchConfig     `json:"dispatch"`
	Delivery     DeliveryConfig     `json:"delivery"`
	Admin        AdminConfig        `json:"admin"`
	Housekeeping HousekeepingConfig `json:"housekeeping"`
	Notify       NotifyConfig       `json:"notify"`
	Ops          OpsConfig          `json:"ops,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"` // or TVBOT_TELEGRAM_TOKEN
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
	APIURL       string  `json:"api_url,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards warnings and errors to a chat, by default the
// first owner.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id,omitempty"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the store driver.
//
// Example:
//
//	"storage": { "driver": "file", "dir": "./data" }
type StorageConfig struct {
	Driver          string `json:"driver"`
	Dir             string `json:"dir,omitempty"`
	UsersFile       string `json:"users_file,omitempty"`
	SchedulesFile   string `json:"schedules_file,omitempty"`
	Path            string `json:"path,omitempty"`         // sqlite
	BusyTimeout     string `json:"busy_timeout,omitempty"` // sqlite
	TolerateCorrupt bool   `json:"tolerate_corrupt,omitempty"`
}

type DispatchConfig struct {
	Interval  string `json:"interval"`
	Tolerance string `json:"tolerance"`
	Timezone  string `json:"timezone,omitempty"`
	// MaxEmptyRetries deactivates an entry after this many due cycles without
	// active recipients. An entry is only due for 2*tolerance/interval+1
	// cycles, so larger values are rejected. 0 retries until the window
	// closes.
	MaxEmptyRetries int  `json:"max_empty_retries,omitempty"`
	RunOnStart      bool `json:"run_on_start,omitempty"`
}

type DeliveryConfig struct {
	RatePerSec     int    `json:"rate_per_sec"`
	RetryMax       int    `json:"retry_max"`
	Workers        int    `json:"workers"`
	PerSendTimeout string `json:"per_send_timeout,omitempty"`
	ParseMode      string `json:"parse_mode,omitempty"`
	DisablePreview bool   `json:"disable_preview,omitempty"`
}

type AdminConfig struct {
	MessageTemplate string `json:"message_template,omitempty"`
	BackupDir       string `json:"backup_dir,omitempty"`
	Retention       string `json:"retention,omitempty"`
	UpcomingDays    int    `json:"upcoming_days,omitempty"`
}

// HousekeepingConfig schedules cleanup and backups. Specs accept cron
// expressions, descriptors ("@hourly") or intervals ("6h"). An empty
// backup_spec disables the backup job.
type HousekeepingConfig struct {
	Enabled     bool   `json:"enabled"`
	CleanupSpec string `json:"cleanup_spec,omitempty"`
	BackupSpec  string `json:"backup_spec,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

// NotifyConfig controls dispatch reports to the owners' private chats.
type NotifyConfig struct {
	Enabled bool `json:"enabled"`
}

// OpsConfig controls the HTTP endpoint with /healthz, /metrics and pprof.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9464").
//   - A non-loopback address needs a token or allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // or TVBOT_OPS_TOKEN; never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
}
