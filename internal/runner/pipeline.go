// Package runner orchestrates the pipeline: a FileRunner drives one file
// through extract, transform, processed output and the optional load with
// bounded retries, and a PipelineRunner discovers files, fans them out to
// a bounded worker pool and aggregates the results into a PipelineRun.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/flatetl/internal/etlerr"
	"github.com/JonMunkholm/flatetl/internal/logging"
)

// DefaultPattern selects the files processed from the raw directory.
const DefaultPattern = "*.csv"

// maxRecentRuns bounds the in-memory run history.
const maxRecentRuns = 20

// FileProcessor processes a single file. *FileRunner implements it.
type FileProcessor interface {
	Run(ctx context.Context, f SourceFile) FileResult
}

// Fetcher copies remote files into the raw directory before discovery and
// returns the local paths it wrote.
type Fetcher interface {
	Fetch(ctx context.Context, dir string) ([]string, error)
}

// Recorder persists completed runs.
type Recorder interface {
	RecordRun(ctx context.Context, run *PipelineRun) error
}

// PipelineConfig holds the directories and pool size of a pipeline.
type PipelineConfig struct {
	RawDir       string
	ProcessedDir string
	// ReportDir receives run-<id>.json and last_run.json. Empty disables
	// report files.
	ReportDir string
	Pattern   string
	Workers   int
	// Encoding is recorded on each discovered SourceFile.
	Encoding string
}

// ErrorSummary is one failed file in the aggregate report.
type ErrorSummary struct {
	File    string      `json:"file"`
	Message string      `json:"message"`
	Kind    etlerr.Kind `json:"kind"`
	Code    string      `json:"code"`
}

func (e ErrorSummary) String() string {
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// PipelineRun is the aggregate of one pipeline execution.
//
// FilesProcessed counts files that succeeded. Row totals come from each
// file's final attempt.
type PipelineRun struct {
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

	Errors []ErrorSummary `json:"errors"`
	Files  []FileResult   `json:"files"`

	Success   bool `json:"success"`
	Cancelled bool `json:"cancelled"`
}

// add folds a finished file into the aggregate.
func (run *PipelineRun) add(res FileResult) {
	run.Files = append(run.Files, res)
	run.RowsExtracted += res.RowsExtracted()
	run.RowsTransformed += res.RowsTransformed()
	run.RowsLoaded += res.RowsLoaded()
	if res.Succeeded() {
		run.FilesProcessed++
		return
	}
	run.FilesFailed++
	msg := res.Error
	if msg == "" {
		msg = "unknown error"
	}
	run.Errors = append(run.Errors, ErrorSummary{
		File:    res.File.Name,
		Message: msg,
		Kind:    res.Kind,
		Code:    etlerr.MapError(res.Err).Code,
	})
}

// ActiveRun describes a run that has started and not yet finished.
type ActiveRun struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	RawDir    string    `json:"raw_dir"`
}

// PipelineRunner discovers source files and processes them.
type PipelineRunner struct {
	cfg      PipelineConfig
	files    FileProcessor
	fetcher  Fetcher
	recorder Recorder

	mu     sync.RWMutex
	recent []*PipelineRun
	active map[string]ActiveRun
}

// NewPipelineRunner creates a pipeline runner over files.
func NewPipelineRunner(cfg PipelineConfig, files FileProcessor) *PipelineRunner {
	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &PipelineRunner{cfg: cfg, files: files, active: make(map[string]ActiveRun)}
}

// SetFetcher installs a pre-fetch step that runs before discovery.
func (p *PipelineRunner) SetFetcher(f Fetcher) {
	p.fetcher = f
}

// SetRecorder installs a store for completed runs.
func (p *PipelineRunner) SetRecorder(r Recorder) {
	p.recorder = r
}

// RunOnce runs the pipeline and returns the overall verdict.
func (p *PipelineRunner) RunOnce(ctx context.Context) bool {
	run, err := p.Run(ctx)
	if err != nil {
		logging.FromContext(ctx).Error("pipeline run failed", "error", err)
		return false
	}
	return run.Success
}

// Run executes one pipeline pass. It returns an error only when the run
// could not be set up (missing raw directory, unusable processed
// directory); the returned PipelineRun is non-nil in every case and its
// Success field is the verdict.
//
// A run ID already attached to ctx with logging.WithRun is used as the
// run's ID; otherwise a new one is generated.
func (p *PipelineRunner) Run(ctx context.Context) (*PipelineRun, error) {
	runID := logging.RunID(ctx)
	if runID == "" {
		runID = uuid.New().String()
		ctx = logging.WithRun(ctx, runID)
	}
	logger := logging.FromContext(ctx)

	run := &PipelineRun{
		RunID:     runID,
		StartedAt: time.Now(),
		RawDir:    p.cfg.RawDir,
		Errors:    []ErrorSummary{},
		Files:     []FileResult{},
	}
	p.mu.Lock()
	p.active[runID] = ActiveRun{RunID: runID, StartedAt: run.StartedAt, RawDir: run.RawDir}
	p.mu.Unlock()
	logger.Info("ETL pipeline started", "raw_dir", p.cfg.RawDir, "processed_dir", p.cfg.ProcessedDir, "workers", p.cfg.Workers)

	err := p.execute(ctx, run)
	if err != nil {
		run.Errors = append(run.Errors, ErrorSummary{
			File:    p.cfg.RawDir,
			Message: err.Error(),
			Kind:    etlerr.KindOf(err),
			Code:    etlerr.MapError(err).Code,
		})
	}
	p.finish(ctx, run, err)
	return run, err
}

func (p *PipelineRunner) execute(ctx context.Context, run *PipelineRun) error {
	logger := logging.FromContext(ctx)

	if p.fetcher != nil {
		fetched, err := p.fetcher.Fetch(ctx, p.cfg.RawDir)
		if err != nil {
			logger.Warn("pre-fetch failed, processing files already on disk", "error", err)
		} else {
			logger.Info("pre-fetch complete", "files", len(fetched))
		}
	}

	info, err := os.Stat(p.cfg.RawDir)
	if err != nil || !info.IsDir() {
		return etlerr.New(etlerr.NotFound, "raw directory not found: %s", p.cfg.RawDir)
	}
	if err := os.MkdirAll(p.cfg.ProcessedDir, 0o755); err != nil {
		return etlerr.Wrap(etlerr.OutputError, err, "create processed directory %s", p.cfg.ProcessedDir)
	}

	files, err := p.discover()
	if err != nil {
		return err
	}
	run.FilesDiscovered = len(files)
	if len(files) == 0 {
		logger.Warn("no input files found", "raw_dir", p.cfg.RawDir, "pattern", p.cfg.Pattern)
		return nil
	}
	for _, f := range files {
		logger.Info("discovered file", "name", f.Name, "size", f.Size)
	}

	results := make(chan FileResult)
	done := make(chan struct{})
	var collected []FileResult
	go func() {
		defer close(done)
		for res := range results {
			collected = append(collected, res)
		}
	}()

	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)
	for _, f := range files {
		if ctx.Err() != nil {
			run.FilesSkipped++
			continue
		}
		g.Go(func() error {
			results <- p.files.Run(ctx, f)
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	<-done

	sort.Slice(collected, func(i, j int) bool {
		return collected[i].File.Name < collected[j].File.Name
	})
	for _, res := range collected {
		run.add(res)
	}
	if run.FilesSkipped > 0 {
		logger.Warn("pipeline cancelled before all files were dispatched", "skipped", run.FilesSkipped)
	}
	return nil
}

// discover lists regular files in the raw directory matching the pattern,
// sorted by name.
func (p *PipelineRunner) discover() ([]SourceFile, error) {
	entries, err := os.ReadDir(p.cfg.RawDir)
	if err != nil {
		return nil, etlerr.Wrap(etlerr.Unreadable, err, "list raw directory")
	}

	var files []SourceFile
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		ok, err := filepath.Match(p.cfg.Pattern, e.Name())
		if err != nil {
			return nil, fmt.Errorf("invalid file pattern %q: %w", p.cfg.Pattern, err)
		}
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, SourceFile{
			Path:     filepath.Join(p.cfg.RawDir, e.Name()),
			Name:     e.Name(),
			Size:     info.Size(),
			Encoding: p.cfg.Encoding,
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// finish computes the verdict, reports the run and remembers it.
func (p *PipelineRunner) finish(ctx context.Context, run *PipelineRun, setupErr error) {
	logger := logging.FromContext(ctx)

	run.FinishedAt = time.Now()
	run.Duration = run.FinishedAt.Sub(run.StartedAt)
	run.Cancelled = ctx.Err() != nil
	run.Success = setupErr == nil && run.FilesFailed == 0 && run.FilesSkipped == 0 && !run.Cancelled

	run.LogReport(logger)

	if p.cfg.ReportDir != "" {
		if err := SaveReport(p.cfg.ReportDir, run); err != nil {
			logger.Warn("failed to save run report", "error", err)
		}
	}
	if p.recorder != nil {
		// The run context may already be cancelled; recording still matters.
		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := p.recorder.RecordRun(recCtx, run); err != nil {
			logger.Warn("failed to record run", "error", err)
		}
	}

	p.mu.Lock()
	delete(p.active, run.RunID)
	p.recent = append(p.recent, run)
	if len(p.recent) > maxRecentRuns {
		p.recent = p.recent[len(p.recent)-maxRecentRuns:]
	}
	p.mu.Unlock()
}

// Recent returns the runs completed by this runner, newest first.
func (p *PipelineRunner) Recent() []*PipelineRun {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*PipelineRun, len(p.recent))
	for i, run := range p.recent {
		out[len(p.recent)-1-i] = run
	}
	return out
}

// Latest returns the most recent completed run, or nil.
func (p *PipelineRunner) Latest() *PipelineRun {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.recent) == 0 {
		return nil
	}
	return p.recent[len(p.recent)-1]
}

// Running returns the run with the given ID if it is still in progress.
func (p *PipelineRunner) Running(runID string) (ActiveRun, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	run, ok := p.active[runID]
	return run, ok
}

// Lookup returns a remembered completed run by ID.
func (p *PipelineRunner) Lookup(runID string) (*PipelineRun, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, run := range p.recent {
		if run.RunID == runID {
			return run, true
		}
	}
	return nil, false
}
