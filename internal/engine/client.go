// Package engine is the typed client for the external simulation engine:
// run start/cancel/reset, batch status, scenario listing, configuration
// persistence, and the per-run telemetry stream.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"simdeck/internal/core"
	"simdeck/internal/dirty"
)

// Client talks to the simulation engine's HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates an engine client.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// startRunResponse is the engine's run-start payload.
type startRunResponse struct {
	RunID      string `json:"run_id"`
	ScenarioID string `json:"scenario_id"`
}

// StartRun starts a run for the scenario. The engine enforces the
// one-run-per-workspace rule on its side too and answers 409 when a run is
// already active; that surfaces as a conflict error here.
func (c *Client) StartRun(ctx context.Context, scenarioID core.ScenarioID) (core.RunID, error) {
	var resp startRunResponse
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/scenarios/%s/run", scenarioID), nil, &resp)
	if err != nil {
		return "", err
	}
	return core.RunID(resp.RunID), nil
}

// CancelRun requests cancellation of the scenario's active run. Idempotent.
func (c *Client) CancelRun(ctx context.Context, scenarioID core.ScenarioID) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/scenarios/%s/cancel", scenarioID), nil, nil)
}

// ResetRun force-resets the scenario's run. Always succeeds on the engine
// side and marks the run failed there. Idempotent.
func (c *Client) ResetRun(ctx context.Context, scenarioID core.ScenarioID) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/scenarios/%s/reset", scenarioID), nil, nil)
}

// startBatchRequest is the engine's batch-start payload.
type startBatchRequest struct {
	Name         string   `json:"name"`
	ScenarioIDs  []string `json:"scenario_ids"`
	Parallel     bool     `json:"parallel"`
	ExportFormat string   `json:"export_format"`
}

// StartBatch submits a batch of scenarios for execution.
func (c *Client) StartBatch(ctx context.Context, job *core.BatchJob) error {
	ids := make([]string, len(job.Scenarios))
	for i, s := range job.Scenarios {
		ids[i] = string(s.ScenarioID)
	}
	req := startBatchRequest{
		Name:         job.Name,
		ScenarioIDs:  ids,
		Parallel:     job.Parallel,
		ExportFormat: string(job.ExportFormat),
	}
	return c.do(ctx, http.MethodPost, "/batches/"+string(job.ID), req, nil)
}

// BatchStatus fetches the authoritative status of a batch job.
func (c *Client) BatchStatus(ctx context.Context, id core.BatchID) (*core.BatchJob, error) {
	var job core.BatchJob
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/batches/%s/status", id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListScenarios lists the scenarios configured in a workspace.
func (c *Client) ListScenarios(ctx context.Context, workspace core.WorkspaceID) ([]core.Scenario, error) {
	var scenarios []core.Scenario
	path := "/scenarios?workspace_id=" + url.QueryEscape(string(workspace))
	if err := c.do(ctx, http.MethodGet, path, nil, &scenarios); err != nil {
		return nil, err
	}
	return scenarios, nil
}

// SaveConfig persists the configuration document. On success the engine
// returns the canonical saved document, which callers use to refresh the
// saved snapshot exactly rather than echoing the request.
func (c *Client) SaveConfig(ctx context.Context, doc dirty.Snapshot) (dirty.Snapshot, error) {
	var canonical map[string]map[string]interface{}
	if err := c.do(ctx, http.MethodPut, "/config", map[string]map[string]interface{}(doc), &canonical); err != nil {
		return nil, err
	}
	return dirty.Snapshot(canonical), nil
}

// do performs one HTTP round trip, translating transport failures to
// transient network errors and HTTP error statuses to domain errors.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("engine request", "method", method, "path", path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return core.ErrNetwork("engine request failed", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return c.errorFromStatus(resp, method, path)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func (c *Client) errorFromStatus(resp *http.Response, method, path string) error {
	msg := fmt.Sprintf("engine returned %d for %s %s", resp.StatusCode, method, path)

	switch resp.StatusCode {
	case http.StatusConflict:
		return &core.DomainError{
			Category: core.ErrCatConflict,
			Code:     core.CodeRunAlreadyActive,
			Message:  "engine reports a run is already active",
		}
	case http.StatusNotFound:
		return &core.DomainError{
			Category: core.ErrCatNotFound,
			Code:     core.CodeNotFound,
			Message:  msg,
		}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return core.ErrValidation(core.CodeEngineRejected, msg)
	default:
		if resp.StatusCode >= 500 {
			return core.ErrNetwork(msg, nil)
		}
		return core.ErrState(core.CodeEngineRejected, msg)
	}
}
