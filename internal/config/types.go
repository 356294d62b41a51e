package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Health    HealthConfig    `json:"health,omitempty"`
}

// TelegramConfig configures the publication gateway.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type TelegramConfig struct {
	Token string `json:"token"`

	// SendTimeout bounds a single publish call against the Telegram API.
	// A timed-out send is reported as a gateway failure, never retried.
	SendTimeout string `json:"send_timeout,omitempty"` // default "15s"

	// RatePerSec caps outgoing gateway calls (Telegram flood limits).
	RatePerSec int `json:"rate_per_sec,omitempty"` // default 1
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig configures the SQLite store that owns posts, channels
// and analytics rows. The store is authoritative; the engine's pending
// trigger set is rebuilt from it on startup.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// SchedulerConfig controls the publish sweep.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// SweepInterval is how often due triggers are collected and published.
	SweepInterval string `json:"sweep_interval,omitempty"` // default "30s"

	// Timezone used for optimal-schedule slot generation (IANA name).
	Timezone string `json:"timezone,omitempty"`
}

// HealthConfig controls periodic channel health checks (title/member
// count refresh, deactivation of unreachable channels).
type HealthConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // cron spec or "@every 30m"
	Timeout  string `json:"timeout,omitempty"`  // per full pass
}
