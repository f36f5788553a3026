// Package ledger keeps the history of completed pipeline runs in SQLite.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/flatetl/internal/runner"
)

// ErrNotFound is returned by GetRun for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DefaultListLimit caps ListRuns when no positive limit is given.
const DefaultListLimit = 50

// RunSummary is a stored run.
type RunSummary struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	RawDir     string        `json:"raw_dir"`

	FilesDiscovered int `json:"files_discovered"`
	FilesProcessed  int `json:"files_processed"`
	FilesFailed     int `json:"files_failed"`
	FilesSkipped    int `json:"files_skipped"`

	RowsExtracted   int `json:"rows_extracted"`
	RowsTransformed int `json:"rows_transformed"`
	RowsLoaded      int `json:"rows_loaded"`

	Success   bool                  `json:"success"`
	Cancelled bool                  `json:"cancelled"`
	Errors    []runner.ErrorSummary `json:"errors"`

	// Files is populated by GetRun only.
	Files []FileSummary `json:"files,omitempty"`
}

// FileSummary is one file of a stored run.
type FileSummary struct {
	Name            string        `json:"name"`
	State           string        `json:"state"`
	Attempts        int           `json:"attempts"`
	RowsExtracted   int           `json:"rows_extracted"`
	RowsTransformed int           `json:"rows_transformed"`
	RowsLoaded      int           `json:"rows_loaded"`
	LoadSkipped     bool          `json:"load_skipped"`
	OutputPath      string        `json:"output_path,omitempty"`
	Error           string        `json:"error,omitempty"`
	Kind            string        `json:"kind,omitempty"`
	Duration        time.Duration `json:"duration"`
}

// Ledger wraps the SQLite database holding run history.
type Ledger struct {
	conn *sql.DB
}

// Open opens (or creates) the ledger database at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// SQLite only supports one writer
	conn.SetMaxOpenConns(1)

	l := &Ledger{conn: conn}
	if err := l.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return l, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.conn.Close()
}

func (l *Ledger) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			duration_ns INTEGER NOT NULL,
			raw_dir TEXT NOT NULL DEFAULT '',
			files_discovered INTEGER NOT NULL DEFAULT 0,
			files_processed INTEGER NOT NULL DEFAULT 0,
			files_failed INTEGER NOT NULL DEFAULT 0,
			files_skipped INTEGER NOT NULL DEFAULT 0,
			rows_extracted INTEGER NOT NULL DEFAULT 0,
			rows_transformed INTEGER NOT NULL DEFAULT 0,
			rows_loaded INTEGER NOT NULL DEFAULT 0,
			success INTEGER NOT NULL DEFAULT 0,
			cancelled INTEGER NOT NULL DEFAULT 0,
			errors TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS run_files (
			run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			state TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			rows_extracted INTEGER NOT NULL DEFAULT 0,
			rows_transformed INTEGER NOT NULL DEFAULT 0,
			rows_loaded INTEGER NOT NULL DEFAULT 0,
			load_skipped INTEGER NOT NULL DEFAULT 0,
			output_path TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL DEFAULT '',
			duration_ns INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	}

	for _, m := range migrations {
		if _, err := l.conn.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %s: %w", m[:40], err)
		}
	}
	return nil
}

// RecordRun stores run and its files in one transaction. Recording the
// same run ID again replaces it.
func (l *Ledger) RecordRun(ctx context.Context, run *runner.PipelineRun) error {
	errs, err := json.Marshal(run.Errors)
	if err != nil {
		return fmt.Errorf("encode errors: %w", err)
	}

	tx, err := l.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_files WHERE run_id = ?`, run.RunID); err != nil {
		return fmt.Errorf("clear run files: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (
			run_id, started_at, finished_at, duration_ns, raw_dir,
			files_discovered, files_processed, files_failed, files_skipped,
			rows_extracted, rows_transformed, rows_loaded,
			success, cancelled, errors
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID,
		run.StartedAt.UTC().Format(timeLayout),
		run.FinishedAt.UTC().Format(timeLayout),
		int64(run.Duration),
		run.RawDir,
		run.FilesDiscovered, run.FilesProcessed, run.FilesFailed, run.FilesSkipped,
		run.RowsExtracted, run.RowsTransformed, run.RowsLoaded,
		run.Success, run.Cancelled, string(errs),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, f := range run.Files {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_files (
				run_id, name, state, attempts,
				rows_extracted, rows_transformed, rows_loaded,
				load_skipped, output_path, error, kind, duration_ns
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, f.File.Name, string(f.State), len(f.Attempts),
			f.RowsExtracted(), f.RowsTransformed(), f.RowsLoaded(),
			f.LoadSkipped, f.OutputPath, f.Error, string(f.Kind), int64(f.Duration),
		)
		if err != nil {
			return fmt.Errorf("insert run file %s: %w", f.File.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Summarize converts an in-memory run to its stored form. Files are
// included when withFiles is set, matching GetRun.
func Summarize(run *runner.PipelineRun, withFiles bool) RunSummary {
	r := RunSummary{
		RunID:           run.RunID,
		StartedAt:       run.StartedAt,
		FinishedAt:      run.FinishedAt,
		Duration:        run.Duration,
		RawDir:          run.RawDir,
		FilesDiscovered: run.FilesDiscovered,
		FilesProcessed:  run.FilesProcessed,
		FilesFailed:     run.FilesFailed,
		FilesSkipped:    run.FilesSkipped,
		RowsExtracted:   run.RowsExtracted,
		RowsTransformed: run.RowsTransformed,
		RowsLoaded:      run.RowsLoaded,
		Success:         run.Success,
		Cancelled:       run.Cancelled,
		Errors:          run.Errors,
	}
	if !withFiles {
		return r
	}
	r.Files = make([]FileSummary, 0, len(run.Files))
	for _, f := range run.Files {
		r.Files = append(r.Files, FileSummary{
			Name:            f.File.Name,
			State:           string(f.State),
			Attempts:        len(f.Attempts),
			RowsExtracted:   f.RowsExtracted(),
			RowsTransformed: f.RowsTransformed(),
			RowsLoaded:      f.RowsLoaded(),
			LoadSkipped:     f.LoadSkipped,
			OutputPath:      f.OutputPath,
			Error:           f.Error,
			Kind:            string(f.Kind),
			Duration:        f.Duration,
		})
	}
	return r
}

const runColumns = `run_id, started_at, finished_at, duration_ns, raw_dir,
	files_discovered, files_processed, files_failed, files_skipped,
	rows_extracted, rows_transformed, rows_loaded, success, cancelled, errors`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (RunSummary, error) {
	var (
		r                 RunSummary
		started, finished string
		durationNs        int64
		errs              string
	)
	err := s.Scan(
		&r.RunID, &started, &finished, &durationNs, &r.RawDir,
		&r.FilesDiscovered, &r.FilesProcessed, &r.FilesFailed, &r.FilesSkipped,
		&r.RowsExtracted, &r.RowsTransformed, &r.RowsLoaded,
		&r.Success, &r.Cancelled, &errs,
	)
	if err != nil {
		return r, err
	}
	r.Duration = time.Duration(durationNs)
	if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return r, fmt.Errorf("parse started_at: %w", err)
	}
	if r.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
		return r, fmt.Errorf("parse finished_at: %w", err)
	}
	if err := json.Unmarshal([]byte(errs), &r.Errors); err != nil {
		return r, fmt.Errorf("decode errors: %w", err)
	}
	return r, nil
}

// ListRuns returns up to limit runs, newest first.
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := l.conn.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run with its files. Unknown IDs return ErrNotFound.
func (l *Ledger) GetRun(ctx context.Context, runID string) (*RunSummary, error) {
	r, err := scanRun(l.conn.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}

	rows, err := l.conn.QueryContext(ctx, `
		SELECT name, state, attempts, rows_extracted, rows_transformed, rows_loaded,
			load_skipped, output_path, error, kind, duration_ns
		FROM run_files WHERE run_id = ? ORDER BY name`, runID)
	if err != nil {
		return nil, fmt.Errorf("get run files: %w", err)
	}
	defer rows.Close()

	r.Files = []FileSummary{}
	for rows.Next() {
		var f FileSummary
		var durationNs int64
		if err := rows.Scan(
			&f.Name, &f.State, &f.Attempts, &f.RowsExtracted, &f.RowsTransformed, &f.RowsLoaded,
			&f.LoadSkipped, &f.OutputPath, &f.Error, &f.Kind, &durationNs,
		); err != nil {
			return nil, fmt.Errorf("scan run file: %w", err)
		}
		f.Duration = time.Duration(durationNs)
		r.Files = append(r.Files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &r, nil
}
