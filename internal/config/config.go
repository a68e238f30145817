// Package config defines simdeck's configuration surface and its viper-based
// loader. Lifecycle timing constants (heartbeat threshold, poll interval,
// completion grace) live here; nothing in the sync core is adaptive.
package config

import "time"

// Config holds all application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	History   HistoryConfig   `mapstructure:"history"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures the dashboard HTTP server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// EngineConfig configures the connection to the simulation engine.
type EngineConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LifecycleConfig configures the run-lifecycle synchronization core. All
// values are fixed, externally configurable constants.
type LifecycleConfig struct {
	// HeartbeatThreshold is how long without telemetry before a running run
	// is flagged stale. Advisory only; staleness never auto-clears a run.
	HeartbeatThreshold time.Duration `mapstructure:"heartbeat_threshold"`

	// StaleCheckInterval is how often the staleness detector wakes up.
	StaleCheckInterval time.Duration `mapstructure:"stale_check_interval"`

	// PollInterval is the fixed interval between batch status polls.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// CompletionGrace is how long the final snapshot stays visible before
	// the store clears and the one-shot navigation fires.
	CompletionGrace time.Duration `mapstructure:"completion_grace"`
}

// HistoryConfig configures the run/batch history store.
type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

// WorkspaceConfig selects the active workspace and its configuration document.
type WorkspaceConfig struct {
	ID         string `mapstructure:"id"`
	ConfigPath string `mapstructure:"config_path"`
}
