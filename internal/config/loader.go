package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "SIMDECK"

// Loader assembles configuration from defaults, config file, environment
// (SIMDECK_*), and bound CLI flags, lowest to highest precedence.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a loader with its own viper instance.
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper creates a loader over an existing viper instance so CLI
// flag bindings participate in precedence.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// WithConfigFile pins an explicit config file path, disabling the search
// paths.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// ConfigFile returns the config file actually used, if any.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Load resolves the full configuration. No config file on the search path is
// fine; a present but unparseable one is an error.
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if err := l.readFile(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func (l *Loader) readFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".simdeck")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "simdeck"))
		}
	}

	err := l.v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return fmt.Errorf("reading config: %w", err)
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("server.host", "localhost")
	l.v.SetDefault("server.port", 8080)
	l.v.SetDefault("server.read_timeout", "15s")
	l.v.SetDefault("server.write_timeout", "30s")
	l.v.SetDefault("server.shutdown_timeout", "10s")
	l.v.SetDefault("server.cors_origins", []string{"*"})

	l.v.SetDefault("engine.base_url", "http://localhost:9090")
	l.v.SetDefault("engine.request_timeout", "30s")

	l.v.SetDefault("lifecycle.heartbeat_threshold", "30s")
	l.v.SetDefault("lifecycle.stale_check_interval", "10s")
	l.v.SetDefault("lifecycle.poll_interval", "2s")
	l.v.SetDefault("lifecycle.completion_grace", "2s")

	l.v.SetDefault("history.path", ".simdeck/history.db")

	l.v.SetDefault("workspace.id", "default")
	l.v.SetDefault("workspace.config_path", ".simdeck/scenario-config.yaml")
}
