package runner

import (
	"context"
	"time"

	"github.com/JonMunkholm/flatetl/internal/etlerr"
	"github.com/JonMunkholm/flatetl/internal/extract"
	"github.com/JonMunkholm/flatetl/internal/tabular"
	"github.com/JonMunkholm/flatetl/internal/transform"
)

// State is a position in the per-file state machine.
type State string

const (
	StatePending      State = "pending"
	StateExtracting   State = "extracting"
	StateTransforming State = "transforming"
	StateWriting      State = "writing_output"
	StateLoading      State = "loading"
	StateSucceeded    State = "succeeded"
	StateFailed       State = "failed"
)

// Outcome classifies how an attempt ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeRetryable Outcome = "retryable"
	OutcomeFatal     Outcome = "fatal"
	OutcomeCancelled Outcome = "cancelled"
)

// Extractor reads a source file into a table.
type Extractor interface {
	Read(ctx context.Context, path string, opts extract.Options) (*tabular.Table, extract.Stats, error)
}

// Cleaner applies the transformation steps.
type Cleaner interface {
	Transform(ctx context.Context, t *tabular.Table, opts transform.Options) (*tabular.Table, transform.Stats, error)
}

// SourceFile is a discovered input file. It is not modified after
// discovery.
type SourceFile struct {
	Path     string `json:"path"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Encoding string `json:"encoding"`
}

// StageResult summarizes one completed stage.
type StageResult struct {
	Stage    etlerr.Stage  `json:"stage"`
	RowsIn   int           `json:"rows_in"`
	RowsOut  int           `json:"rows_out"`
	Duration time.Duration `json:"duration"`
	Warnings []string      `json:"warnings,omitempty"`

	// Transformation only.
	DuplicatesRemoved int `json:"duplicates_removed,omitempty"`
	RowsDropped       int `json:"rows_dropped,omitempty"`
	Conversions       int `json:"conversions,omitempty"`
}

// AttemptRecord describes one pass through the stage sequence.
type AttemptRecord struct {
	Attempt  int           `json:"attempt"`
	Stage    etlerr.Stage  `json:"stage"`
	Outcome  Outcome       `json:"outcome"`
	Kind     etlerr.Kind   `json:"kind,omitempty"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// FileResult is the final state of one file.
type FileResult struct {
	File     SourceFile      `json:"file"`
	State    State           `json:"state"`
	Attempts []AttemptRecord `json:"attempts"`

	// Stage results of the last attempt.
	Extraction     *StageResult `json:"extraction,omitempty"`
	Transformation *StageResult `json:"transformation,omitempty"`
	Load           *StageResult `json:"load,omitempty"`

	OutputPath     string `json:"output_path,omitempty"`
	OutputBytes    int64  `json:"output_bytes,omitempty"`
	Destination    string `json:"destination,omitempty"`
	LoadSkipped    bool   `json:"load_skipped"`
	LoadSkipReason string `json:"load_skip_reason,omitempty"`

	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Kind     etlerr.Kind   `json:"kind,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Succeeded reports whether the file reached StateSucceeded.
func (r FileResult) Succeeded() bool {
	return r.State == StateSucceeded
}

// RowsExtracted returns the row count read by the last attempt.
func (r FileResult) RowsExtracted() int {
	if r.Extraction == nil {
		return 0
	}
	return r.Extraction.RowsOut
}

// RowsTransformed returns the row count after transformation in the last
// attempt.
func (r FileResult) RowsTransformed() int {
	if r.Transformation == nil {
		return 0
	}
	return r.Transformation.RowsOut
}

// RowsLoaded returns the rows committed to the destination.
func (r FileResult) RowsLoaded() int {
	if r.Load == nil {
		return 0
	}
	return r.Load.RowsOut
}
