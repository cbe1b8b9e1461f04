package config

// Config is the root configuration document.
//
// The file may be JSON or YAML (by extension); YAML is coerced to JSON so the
// same strict decoder handles both.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
	Engine   EngineConfig   `json:"engine"`
}

type LoggingConfig struct {
	Level   string         `json:"level,omitempty"`
	Console bool           `json:"console"`
	File    LogFileConfig  `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig points at the SQLite database file.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// TelegramConfig controls the provider client shared by all user sessions.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type TelegramConfig struct {
	// RatePerSec caps outgoing sends across all users. 0 means default (10).
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// SendTimeout bounds one provider send call. "0s" disables the bound.
	SendTimeout string `json:"send_timeout,omitempty"`
}

// EngineConfig controls the dispatch engine.
//
// Defaults (when fields are omitted/zero):
//   - cleanup_every: "10m"
//   - history_limit: 50
type EngineConfig struct {
	Enabled bool `json:"enabled"`

	// CleanupEvery is how often the master clock sweeps expired quarantine
	// entries for all users. Go duration string.
	CleanupEvery string `json:"cleanup_every,omitempty"`

	// Timezone for the master clock (IANA name). Empty means local time.
	Timezone string `json:"timezone,omitempty"`

	// HistoryLimit bounds the recent-dispatch view returned per user.
	HistoryLimit int `json:"history_limit,omitempty"`
}
