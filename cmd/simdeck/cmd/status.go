package cmd

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"simdeck/internal/lifecycle"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active run on a running daemon",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet,
		"http://"+addr+"/api/v1/runs/active", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", addr, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent {
		fmt.Println("no active run")
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}

	var active lifecycle.ActiveRun
	if err := json.NewDecoder(resp.Body).Decode(&active); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	fmt.Printf("run:       %s\n", active.RunID)
	fmt.Printf("scenario:  %s\n", active.ScenarioID)
	fmt.Printf("workspace: %s\n", active.Workspace)
	fmt.Printf("started:   %s\n", active.StartedAt.Format(time.RFC3339))
	if active.Snapshot != nil {
		fmt.Printf("stage:     %s\n", active.Snapshot.Stage)
		fmt.Printf("progress:  %.1f%%\n", active.Snapshot.Progress)
	}
	if active.Stale {
		fmt.Println("warning:   telemetry is stale")
	}
	return nil
}
