package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"simdeck/internal/api"
	"simdeck/internal/batch"
	"simdeck/internal/config"
	"simdeck/internal/core"
	"simdeck/internal/dirty"
	"simdeck/internal/engine"
	"simdeck/internal/events"
	"simdeck/internal/history"
	"simdeck/internal/lifecycle"
	"simdeck/internal/logging"
	"simdeck/internal/poll"
	"simdeck/internal/runstate"
	"simdeck/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard daemon",
	Long: `Starts the simdeck daemon: the REST/SSE API for the browser dashboard,
the telemetry consumer, the staleness detector, the batch poll reconciler,
and the run/batch history store.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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
	agg := batch.NewAggregator(bus, logger.Logger)
	reconciler := poll.NewReconciler(cfg.Lifecycle.PollInterval, engineClient, agg, logger.Logger)
	defer reconciler.Shutdown()

	tracker, err := loadTracker(cfg, bus, logger)
	if err != nil {
		return err
	}
	guard := dirty.NewGuard(tracker, func(nav dirty.PendingNavigation) {
		bus.PublishPriority(events.NewNavigationEvent("", nav.Target))
	}, logger.Logger)

	watcher := dirty.NewWatcher(cfg.Workspace.ConfigPath, tracker, logger.Logger)
	watcher.Start(ctx)

	hist, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer func() { _ = hist.Close() }()

	recorder := history.NewRecorder(hist, agg, bus, ws, logger.Logger)

	server := api.NewServer(api.Deps{
		Lifecycle:  svc,
		Aggregator: agg,
		Reconciler: reconciler,
		Tracker:    tracker,
		Guard:      guard,
		Engine:     engineClient,
		History:    hist,
		Bus:        bus,
		Workspace:  ws,
	},
		api.WithLogger(logger.Logger),
		api.WithCORSOrigins(cfg.Server.CORSOrigins),
	)

	monitor.StartDetector(ctx, store, bus, cfg.Lifecycle.StaleCheckInterval)
	defer monitor.StopDetector()

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	logger.Info("simdeck starting",
		"version", appVersion,
		"workspace", ws,
		"addr", addr,
		"engine", cfg.Engine.BaseURL)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(ctx, addr, cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		err := recorder.Run(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("daemon exited with error", "error", err)
		return err
	}
	logger.Info("simdeck stopped")
	return nil
}

// loadTracker reads the workspace configuration document and builds the dirty
// tracker around it. A missing document starts the tracker empty; the first
// save creates the file.
func loadTracker(cfg *config.Config, bus *events.EventBus, logger *logging.Logger) (*dirty.Tracker, error) {
	var loaded dirty.Snapshot

	data, err := os.ReadFile(cfg.Workspace.ConfigPath)
	switch {
	case err == nil:
		loaded, err = dirty.ParseDocument(data)
		if err != nil {
			return nil, fmt.Errorf("loading workspace config %s: %w", cfg.Workspace.ConfigPath, err)
		}
	case os.IsNotExist(err):
		logger.Info("workspace config not found, starting empty",
			"path", cfg.Workspace.ConfigPath)
		loaded = dirty.Snapshot{}
	default:
		return nil, fmt.Errorf("reading workspace config: %w", err)
	}

	return dirty.NewTracker(loaded, bus, logger.Logger,
		dirty.WithMirrorPath(cfg.Workspace.ConfigPath)), nil
}
