package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"simdeck/internal/core"
	"simdeck/internal/telemetry"
)

// TelemetryStream reads server-sent telemetry events for one run.
type TelemetryStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc
}

// StreamTelemetry opens the engine's telemetry stream for a run. The returned
// stream delivers one snapshot per Recv call and reports io.EOF when the
// engine closes the stream.
func (c *Client) StreamTelemetry(ctx context.Context, runID core.RunID) (telemetry.Stream, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet,
		fmt.Sprintf("%s/runs/%s/telemetry", c.baseURL, runID), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("building stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// The stream outlives any per-request timeout, so use a transport
	// without one.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		cancel()
		return nil, core.ErrNetwork("opening telemetry stream", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		if resp.StatusCode == http.StatusNotFound {
			return nil, &core.DomainError{
				Category: core.ErrCatNotFound,
				Code:     core.CodeNotFound,
				Message:  fmt.Sprintf("run %s has no telemetry stream", runID),
			}
		}
		return nil, core.ErrNetwork(fmt.Sprintf("telemetry stream returned %d", resp.StatusCode), nil)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	return &TelemetryStream{
		body:    resp.Body,
		scanner: scanner,
		cancel:  cancel,
	}, nil
}

// Recv blocks until the next telemetry snapshot arrives. It skips SSE
// comments and non-data fields; io.EOF means the engine ended the stream.
func (s *TelemetryStream) Recv(ctx context.Context) (core.TelemetrySnapshot, error) {
	var snap core.TelemetrySnapshot

	for s.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return snap, err
		}

		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}

		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &snap); err != nil {
			return snap, core.ErrState(core.CodeEngineRejected, "malformed telemetry event").WithCause(err)
		}
		return snap, nil
	}

	if err := s.scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return snap, ctx.Err()
		}
		return snap, core.ErrNetwork("telemetry stream read failed", err)
	}
	return snap, io.EOF
}

// Close tears down the stream connection. Safe to call more than once.
func (s *TelemetryStream) Close() error {
	s.cancel()
	return s.body.Close()
}
