// Package history persists completed runs and batch jobs to SQLite so the
// dashboard can show past activity across daemon restarts.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"simdeck/internal/core"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	scenario_id  TEXT NOT NULL,
	workspace_id TEXT NOT NULL,
	status       TEXT NOT NULL,
	progress     REAL NOT NULL DEFAULT 0,
	started_at   TIMESTAMP NOT NULL,
	finished_at  TIMESTAMP,
	duration_ms  INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_workspace ON runs(workspace_id, started_at DESC);

CREATE TABLE IF NOT EXISTS batches (
	batch_id      TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	workspace_id  TEXT NOT NULL,
	scenarios     TEXT NOT NULL,
	parallel      INTEGER NOT NULL DEFAULT 0,
	export_format TEXT NOT NULL,
	status        TEXT NOT NULL,
	progress      INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_batches_workspace ON batches(workspace_id, created_at DESC);

INSERT OR IGNORE INTO schema_migrations (version) VALUES (1);
`

// RunRecord is one finished run as stored in history.
type RunRecord struct {
	RunID      core.RunID       `json:"run_id"`
	ScenarioID core.ScenarioID  `json:"scenario_id"`
	Workspace  core.WorkspaceID `json:"workspace_id"`
	Status     core.RunStatus   `json:"status"`
	Progress   float64          `json:"progress"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Duration   time.Duration    `json:"duration"`
}

// Store is the SQLite-backed history store.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the history database with WAL mode.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("applying schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordRun upserts one finished run.
func (s *Store) RecordRun(ctx context.Context, rec RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, scenario_id, workspace_id, status, progress,
			started_at, finished_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			finished_at = excluded.finished_at,
			duration_ms = excluded.duration_ms
	`,
		rec.RunID, rec.ScenarioID, rec.Workspace, rec.Status, rec.Progress,
		rec.StartedAt, rec.FinishedAt, rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", rec.RunID, err)
	}
	return nil
}

// ListRuns returns the most recent runs in a workspace, newest first.
func (s *Store) ListRuns(ctx context.Context, workspace core.WorkspaceID, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, scenario_id, workspace_id, status, progress,
		       started_at, finished_at, duration_ms
		FROM runs
		WHERE workspace_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, workspace, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var finished sql.NullTime
		var durationMS int64
		if err := rows.Scan(&rec.RunID, &rec.ScenarioID, &rec.Workspace,
			&rec.Status, &rec.Progress, &rec.StartedAt, &finished, &durationMS); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		if finished.Valid {
			rec.FinishedAt = finished.Time
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecordBatch upserts a batch job, typically on every authoritative merge so
// history survives a crash mid-batch.
func (s *Store) RecordBatch(ctx context.Context, job *core.BatchJob) error {
	scenariosJSON, err := json.Marshal(job.Scenarios)
	if err != nil {
		return fmt.Errorf("marshaling batch scenarios: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO batches (
			batch_id, name, workspace_id, scenarios, parallel,
			export_format, status, progress, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(batch_id) DO UPDATE SET
			scenarios = excluded.scenarios,
			status = excluded.status,
			progress = excluded.progress,
			updated_at = excluded.updated_at
	`,
		job.ID, job.Name, job.Workspace, string(scenariosJSON), job.Parallel,
		job.ExportFormat, job.Status, job.Progress, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording batch %s: %w", job.ID, err)
	}
	return nil
}

// GetBatch loads one batch job from history.
func (s *Store) GetBatch(ctx context.Context, id core.BatchID) (*core.BatchJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT batch_id, name, workspace_id, scenarios, parallel,
		       export_format, status, progress, created_at, updated_at
		FROM batches
		WHERE batch_id = ?
	`, id)

	job, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("batch", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("loading batch %s: %w", id, err)
	}
	return job, nil
}

// ListBatches returns the most recent batch jobs in a workspace, newest first.
func (s *Store) ListBatches(ctx context.Context, workspace core.WorkspaceID, limit int) ([]*core.BatchJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id, name, workspace_id, scenarios, parallel,
		       export_format, status, progress, created_at, updated_at
		FROM batches
		WHERE workspace_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, workspace, limit)
	if err != nil {
		return nil, fmt.Errorf("listing batches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*core.BatchJob
	for rows.Next() {
		job, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning batch row: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*core.BatchJob, error) {
	var job core.BatchJob
	var scenariosJSON string
	if err := row.Scan(&job.ID, &job.Name, &job.Workspace, &scenariosJSON,
		&job.Parallel, &job.ExportFormat, &job.Status, &job.Progress,
		&job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(scenariosJSON), &job.Scenarios); err != nil {
		return nil, fmt.Errorf("decoding batch scenarios: %w", err)
	}
	return &job, nil
}
