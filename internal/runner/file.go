package runner

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/JonMunkholm/flatetl/internal/etlerr"
	"github.com/JonMunkholm/flatetl/internal/extract"
	"github.com/JonMunkholm/flatetl/internal/load"
	"github.com/JonMunkholm/flatetl/internal/logging"
	"github.com/JonMunkholm/flatetl/internal/output"
	"github.com/JonMunkholm/flatetl/internal/transform"
)

// DefaultMaxRetries is the attempt bound when FileOptions leaves it unset.
const DefaultMaxRetries = 3

// FileOptions configure a FileRunner.
type FileOptions struct {
	// MaxRetries is the total number of attempts, including the first.
	MaxRetries   int
	ProcessedDir string
	OutputFormat output.Format

	Extract   extract.Options
	Transform transform.Options
	Load      load.Options

	// LoadRequired makes destination failures fail the attempt instead of
	// being logged as a skipped load.
	LoadRequired bool

	// NoWriterReason is reported for every file when the writer is nil.
	// Empty means the destination was not configured.
	NoWriterReason string

	// Timeout bounds the whole file, all attempts included. Zero means none.
	Timeout time.Duration
}

// FileRunner drives one file through extract, transform, the processed
// output and the optional destination load, retrying the whole sequence
// on retryable errors.
type FileRunner struct {
	reader  Extractor
	cleaner Cleaner
	sink    output.Sink
	writer  load.Writer
	opts    FileOptions
}

// NewFileRunner creates a file runner. A nil writer disables the load
// stage.
func NewFileRunner(reader Extractor, cleaner Cleaner, sink output.Sink, writer load.Writer, opts FileOptions) *FileRunner {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.NoWriterReason == "" {
		opts.NoWriterReason = "destination not configured"
	}
	return &FileRunner{
		reader:  reader,
		cleaner: cleaner,
		sink:    sink,
		writer:  writer,
		opts:    opts,
	}
}

// Run processes f and returns its final result. It never panics and never
// returns a nil Attempts slice for a file that was started.
func (r *FileRunner) Run(ctx context.Context, f SourceFile) FileResult {
	start := time.Now()
	ctx = logging.WithFile(ctx, f.Name)
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}
	logger := logging.FromContext(ctx)

	res := FileResult{File: f, State: StatePending}
	logger.Info("processing file", "size", f.Size, "max_attempts", r.opts.MaxRetries)

	for attempt := 1; attempt <= r.opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Attempts = append(res.Attempts, AttemptRecord{
				Attempt: attempt,
				Outcome: OutcomeCancelled,
				Kind:    etlerr.Cancelled,
				Message: err.Error(),
			})
			r.fail(ctx, &res, etlerr.Wrap(etlerr.Cancelled, err, "file %s", f.Name))
			break
		}

		attemptStart := time.Now()
		stage, err := r.attempt(ctx, &res, attempt)
		rec := AttemptRecord{
			Attempt:  attempt,
			Stage:    stage,
			Duration: time.Since(attemptStart),
		}

		if err == nil {
			rec.Outcome = OutcomeSucceeded
			res.Attempts = append(res.Attempts, rec)
			r.setState(ctx, &res, StateSucceeded)
			break
		}

		rec.Kind = etlerr.KindOf(err)
		rec.Message = err.Error()
		switch {
		case rec.Kind == etlerr.Cancelled || ctx.Err() != nil:
			rec.Outcome = OutcomeCancelled
			if rec.Kind != etlerr.Cancelled {
				err = etlerr.Wrap(etlerr.Cancelled, err, "attempt %d", attempt)
			}
		case etlerr.Retryable(err):
			rec.Outcome = OutcomeRetryable
		default:
			rec.Outcome = OutcomeFatal
		}
		res.Attempts = append(res.Attempts, rec)

		if rec.Outcome == OutcomeRetryable && attempt < r.opts.MaxRetries {
			logger.Warn("attempt failed, retrying",
				"attempt", attempt,
				"max_attempts", r.opts.MaxRetries,
				"stage", stage,
				"kind", rec.Kind,
				"error", err,
			)
			continue
		}
		if rec.Outcome == OutcomeRetryable {
			err = fmt.Errorf("after %d attempts: %w", attempt, err)
		}
		r.fail(ctx, &res, err)
		break
	}

	res.Duration = time.Since(start)
	if res.Succeeded() {
		logger.Info("file processed successfully",
			"attempts", len(res.Attempts),
			"rows_extracted", res.RowsExtracted(),
			"rows_transformed", res.RowsTransformed(),
			"rows_loaded", res.RowsLoaded(),
			"load_skipped", res.LoadSkipped,
			"duration", res.Duration,
		)
	}
	return res
}

// attempt runs the stage sequence once and returns the last stage reached.
// Panics are recovered as internal errors.
func (r *FileRunner) attempt(ctx context.Context, res *FileResult, n int) (stage etlerr.Stage, err error) {
	defer func() {
		if p := recover(); p != nil {
			logging.FromContext(ctx).Error("panic in stage", "stage", stage, "attempt", n, "panic", p)
			err = etlerr.New(etlerr.Internal, "unexpected error in %s stage: %v", stage, p)
		}
	}()

	logger := logging.FromContext(ctx).With("attempt", n)
	res.Extraction, res.Transformation, res.Load = nil, nil, nil
	res.OutputPath, res.OutputBytes = "", 0
	res.LoadSkipped, res.LoadSkipReason, res.Destination = false, "", ""

	// Extract
	stage = etlerr.StageExtract
	r.setState(ctx, res, StateExtracting)
	table, xs, err := r.reader.Read(ctx, res.File.Path, r.opts.Extract)
	if err != nil {
		return stage, err
	}
	res.Extraction = &StageResult{
		Stage:    etlerr.StageExtract,
		RowsIn:   xs.Rows,
		RowsOut:  table.NumRows(),
		Duration: xs.Duration,
		Warnings: xs.Warnings,
	}
	logger.Info("extracted",
		"rows", xs.Rows,
		"columns", xs.Columns,
		"size_mb", fmt.Sprintf("%.2f", xs.SizeMB()),
		"encoding", xs.Encoding,
		"chunks", xs.Chunks,
		"bad_lines", xs.BadLines,
		"duration", xs.Duration,
	)
	logWarnings(logger, etlerr.StageExtract, xs.Warnings)

	// Transform
	stage = etlerr.StageTransform
	r.setState(ctx, res, StateTransforming)
	cleaned, ts, err := r.cleaner.Transform(ctx, table, r.opts.Transform)
	if err != nil {
		return stage, err
	}
	res.Transformation = &StageResult{
		Stage:             etlerr.StageTransform,
		RowsIn:            ts.RowsBefore,
		RowsOut:           ts.RowsAfter,
		Duration:          ts.Duration,
		Warnings:          ts.Warnings,
		DuplicatesRemoved: ts.DuplicatesRemoved,
		RowsDropped:       ts.RowsDropped,
		Conversions:       ts.Conversions,
	}
	logger.Info("transformed",
		"rows_before", ts.RowsBefore,
		"rows_after", ts.RowsAfter,
		"duplicates_removed", ts.DuplicatesRemoved,
		"rows_dropped", ts.RowsDropped,
		"values_filled", ts.ValuesFilled,
		"conversions", ts.Conversions,
		"renamed", ts.Renamed,
		"duration", ts.Duration,
	)
	logWarnings(logger, etlerr.StageTransform, ts.Warnings)

	// Processed output
	stage = etlerr.StageOutput
	r.setState(ctx, res, StateWriting)
	outPath := filepath.Join(r.opts.ProcessedDir, output.OutputName(res.File.Path, r.opts.OutputFormat))
	written, err := r.sink.Write(ctx, cleaned, outPath)
	if err != nil {
		return stage, err
	}
	res.OutputPath, res.OutputBytes = outPath, written
	logger.Info("saved processed file", "path", outPath, "rows", cleaned.NumRows(), "bytes", written)

	// Optional destination load
	if r.writer == nil {
		res.LoadSkipped = true
		res.LoadSkipReason = r.opts.NoWriterReason
		logger.Debug("skipping database load", "reason", r.opts.NoWriterReason)
		return stage, nil
	}

	stage = etlerr.StageLoad
	r.setState(ctx, res, StateLoading)
	dest := load.DestinationName(res.File.Path)
	res.Destination = dest

	loadStart := time.Now()
	rows, err := r.writer.Write(ctx, cleaned, dest, r.opts.Load)
	res.Load = &StageResult{
		Stage:    etlerr.StageLoad,
		RowsIn:   cleaned.NumRows(),
		RowsOut:  rows,
		Duration: time.Since(loadStart),
	}
	if err != nil {
		if r.opts.LoadRequired || etlerr.Is(err, etlerr.Cancelled) {
			return stage, err
		}
		res.LoadSkipped = true
		res.LoadSkipReason = err.Error()
		logger.Warn("database load skipped", "destination", dest, "rows_committed", rows, "error", err)
		return stage, nil
	}
	logger.Info("loaded", "destination", dest, "rows", rows, "duration", res.Load.Duration)
	return stage, nil
}

func (r *FileRunner) setState(ctx context.Context, res *FileResult, s State) {
	logging.FromContext(ctx).Debug("state transition", "from", res.State, "to", s)
	res.State = s
}

func (r *FileRunner) fail(ctx context.Context, res *FileResult, err error) {
	r.setState(ctx, res, StateFailed)
	res.Err = err
	res.Error = err.Error()
	res.Kind = etlerr.KindOf(err)
	logging.FromContext(ctx).Error("file failed",
		"attempts", len(res.Attempts),
		"kind", res.Kind,
		"error", err,
	)
}

func logWarnings(logger *slog.Logger, stage etlerr.Stage, warnings []string) {
	for _, w := range warnings {
		logger.Warn(w, "stage", stage)
	}
}
