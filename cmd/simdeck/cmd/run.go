package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"simdeck/internal/core"
	"simdeck/internal/engine"
	"simdeck/internal/events"
	"simdeck/internal/lifecycle"
	"simdeck/internal/runstate"
	"simdeck/internal/telemetry"
	"simdeck/internal/tui"
)

var runCmd = &cobra.Command{
	Use:   "run <scenario-id>",
	Short: "Start a scenario run and watch it in the terminal",
	Long: `Starts a run directly against the engine and monitors it with a live
terminal view. Useful without the browser dashboard; the same lifecycle
rules apply, including the one-active-run limit.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ws := core.WorkspaceID(cfg.Workspace.ID)
	bus := events.New(256)
	defer bus.Close()

	store := runstate.New(ws, logger.Logger)
	monitor := telemetry.NewMonitor(cfg.Lifecycle.HeartbeatThreshold, logger.Logger)
	source := telemetry.NewSource(store, monitor, bus, cfg.Lifecycle.CompletionGrace, logger.Logger,
		telemetry.WithSampler(telemetry.NewSampler()))

	engineClient := engine.NewClient(cfg.Engine.BaseURL, cfg.Engine.RequestTimeout,
		engine.WithLogger(logger.Logger))
	svc := lifecycle.NewService(store, source, monitor, engineClient, bus, logger.Logger)

	ctx := cmd.Context()
	handle, err := svc.StartRun(ctx, core.ScenarioID(args[0]))
	if err != nil {
		if core.IsConflict(err) {
			return fmt.Errorf("a run is already active in workspace %s", ws)
		}
		return err
	}

	monitor.StartDetector(ctx, store, bus, cfg.Lifecycle.StaleCheckInterval)
	defer monitor.StopDetector()

	model := tui.NewMonitor(handle, bus, func() {
		if err := svc.CancelRun(ctx); err != nil {
			logger.Warn("cancelling run", "error", err)
		}
	})

	p := tea.NewProgram(model)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running monitor: %w", err)
	}
	return nil
}
