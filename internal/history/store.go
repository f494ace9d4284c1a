// internal/history/store.go

// Package history keeps a local SQLite record of every probe run so regressions can be
// traced back to the run that introduced them.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/xkilldash9x/uiprobe/api/schemas"
)

// Run statuses.
const (
	StatusPassed    = "passed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusAborted   = "aborted"
)

// Run is one recorded invocation against one target.
type Run struct {
	ID         string                `json:"id"`
	Target     string                `json:"target"`
	StartedAt  time.Time             `json:"startedAt"`
	FinishedAt time.Time             `json:"finishedAt"`
	Status     string                `json:"status"`
	Summary    schemas.ReportSummary `json:"summary"`
	ReportPath string                `json:"reportPath"`
	Error      string                `json:"error,omitempty"`
}

// Result is the stored outcome of one (scenario, viewport) pair.
type Result struct {
	Scenario         string `json:"scenario"`
	Viewport         string `json:"viewport"`
	Status           string `json:"status"`
	ErrorKind        string `json:"errorKind,omitempty"`
	FailedAssertions int    `json:"failedAssertions"`
}

// StatusOf classifies a finished report.
func StatusOf(report schemas.Report) string {
	switch {
	case report.Error != "":
		return StatusAborted
	case report.Summary.Cancelled > 0:
		return StatusCancelled
	case report.Passed():
		return StatusPassed
	default:
		return StatusFailed
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id                TEXT PRIMARY KEY,
	target            TEXT NOT NULL,
	started_at        TEXT NOT NULL,
	finished_at       TEXT NOT NULL,
	status            TEXT NOT NULL,
	total             INTEGER NOT NULL,
	passed            INTEGER NOT NULL,
	failed            INTEGER NOT NULL,
	errored           INTEGER NOT NULL,
	cancelled         INTEGER NOT NULL,
	assertions        INTEGER NOT NULL,
	failed_assertions INTEGER NOT NULL,
	report_path       TEXT NOT NULL,
	error             TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs(started_at);
CREATE TABLE IF NOT EXISTS results (
	run_id            TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position          INTEGER NOT NULL,
	scenario          TEXT NOT NULL,
	viewport          TEXT NOT NULL,
	status            TEXT NOT NULL,
	error_kind        TEXT NOT NULL DEFAULT '',
	failed_assertions INTEGER NOT NULL,
	PRIMARY KEY (run_id, position)
);`

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// Store persists runs in SQLite.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens (creating if needed) the history database at path.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// One writer at a time; concurrent targets serialise through the pool.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return &Store{db: db, log: logger.Named("history")}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores run and the per-pair results of report in one transaction.
func (s *Store) Record(ctx context.Context, run Run, report schemas.Report) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
	}()

	sum := run.Summary
	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(id, target, started_at, finished_at, status, total, passed, failed, errored, cancelled,
		 assertions, failed_assertions, report_path, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Target,
		run.StartedAt.UTC().Format(time.RFC3339Nano), run.FinishedAt.UTC().Format(time.RFC3339Nano),
		run.Status, sum.Total, sum.Passed, sum.Failed, sum.Errored, sum.Cancelled,
		sum.Assertions, sum.FailedAssertions, run.ReportPath, run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO results
		(run_id, position, scenario, viewport, status, error_kind, failed_assertions)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer stmt.Close()
	for i := range report.ScenarioResults {
		r := &report.ScenarioResults[i]
		if _, err := stmt.ExecContext(ctx, run.ID, i, r.Name, r.Viewport.Name, string(r.Status), r.ErrorKind, r.FailedAssertions()); err != nil {
			return fmt.Errorf("failed to insert result %s/%s: %w", r.Name, r.Viewport.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", run.ID, err)
	}
	s.log.Debug("Run recorded.", zap.String("run_id", run.ID), zap.String("status", run.Status))
	return nil
}

const runColumns = `id, target, started_at, finished_at, status, total, passed, failed, errored,
	cancelled, assertions, failed_assertions, report_path, error`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r                 Run
		started, finished string
	)
	err := row.Scan(&r.ID, &r.Target, &started, &finished, &r.Status,
		&r.Summary.Total, &r.Summary.Passed, &r.Summary.Failed, &r.Summary.Errored,
		&r.Summary.Cancelled, &r.Summary.Assertions, &r.Summary.FailedAssertions,
		&r.ReportPath, &r.Error)
	if err != nil {
		return Run{}, err
	}
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return Run{}, fmt.Errorf("bad started_at for run %s: %w", r.ID, err)
	}
	if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return Run{}, fmt.Errorf("bad finished_at for run %s: %w", r.ID, err)
	}
	return r, nil
}

// List returns the most recent runs first. A non-empty target filters by target URL.
func (s *Store) List(ctx context.Context, target string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + runColumns + ` FROM runs`
	args := []any{}
	if target != "" {
		query += ` WHERE target = ?`
		args = append(args, target)
	}
	query += ` ORDER BY started_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Get returns one run with its results in report order.
func (s *Store) Get(ctx context.Context, id string) (Run, []Result, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Run{}, nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT scenario, viewport, status, error_kind, failed_assertions
		FROM results WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return Run{}, nil, fmt.Errorf("failed to load results for %s: %w", id, err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Scenario, &r.Viewport, &r.Status, &r.ErrorKind, &r.FailedAssertions); err != nil {
			return Run{}, nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}
	return run, results, rows.Err()
}

// Prune deletes all but the newest keep runs and returns how many were removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id NOT IN
		(SELECT id FROM runs ORDER BY started_at DESC, id LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}
