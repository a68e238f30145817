// Package cmd wires the simdeck CLI: the serve daemon, a terminal run
// monitor, and version/status helpers.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"simdeck/internal/config"
	"simdeck/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	workspace string

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string

	v = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "simdeck",
	Short: "Dashboard daemon for workforce simulation runs",
	Long: `simdeck sits between the browser dashboard and the simulation engine.
It owns the run lifecycle: at most one active run per workspace, live
telemetry with staleness detection, batch aggregation with authoritative
polling, and dirty-state tracking for the scenario configuration editor.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion injects build-time version information.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .simdeck.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "",
		"workspace id (default: from config)")

	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = v.BindPFlag("workspace.id", rootCmd.PersistentFlags().Lookup("workspace"))
}

// loadConfig loads configuration with CLI flag bindings applied.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(v)
	if cfgFile != "" {
		loader = loader.WithConfigFile(cfgFile)
	}
	return loader.Load()
}

// newLogger builds the process logger from loaded configuration.
func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
}
