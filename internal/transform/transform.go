// Package transform applies the cleaning steps that sit between extraction
// and load.
//
// Steps run in a fixed order: column-name normalization, missing-value
// handling, duplicate removal, numeric type coercion. Each can be switched
// off through Options. The input table is never modified.
package transform

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/flatetl/internal/etlerr"
	"github.com/JonMunkholm/flatetl/internal/tabular"
)

// Step names, in execution order.
const (
	StepNormalize = "normalize_columns"
	StepMissing   = "missing_values"
	StepDedupe    = "remove_duplicates"
	StepCoerce    = "convert_types"
)

// Options select the steps to run.
type Options struct {
	NormalizeColumns bool
	Missing          MissingStrategy
	RemoveDuplicates bool

	// DedupeColumns restricts duplicate detection to these (normalized)
	// column names. Empty means all columns.
	DedupeColumns []string

	ConvertTypes bool
}

// DefaultOptions enables every step with the drop_all strategy.
func DefaultOptions() Options {
	return Options{
		NormalizeColumns: true,
		Missing:          DropAll,
		RemoveDuplicates: true,
		ConvertTypes:     true,
	}
}

// StepDelta records what one step did.
type StepDelta struct {
	Step        string        `json:"step"`
	RowsRemoved int           `json:"rows_removed"`
	Duration    time.Duration `json:"duration"`
}

// Stats describes a completed transformation.
type Stats struct {
	RowsBefore        int           `json:"rows_before"`
	RowsAfter         int           `json:"rows_after"`
	ColumnsBefore     int           `json:"columns_before"`
	ColumnsAfter      int           `json:"columns_after"`
	DuplicatesRemoved int           `json:"duplicates_removed"`
	RowsDropped       int           `json:"rows_dropped"`
	ValuesFilled      int           `json:"values_filled"`
	Conversions       int           `json:"conversions"`
	Renamed           int           `json:"renamed"`
	Duration          time.Duration `json:"duration"`
	Steps             []StepDelta   `json:"steps"`
	Warnings          []string      `json:"warnings,omitempty"`
}

// Transformer runs the cleaning steps. The zero value is ready to use.
type Transformer struct{}

// NewTransformer creates a transformer.
func NewTransformer() *Transformer {
	return &Transformer{}
}

// Transform returns a cleaned copy of t.
//
// A nil or structurally invalid table is a TypeMismatch error and no step
// runs. Step failures, including panics, are TransformFailed. ctx is
// checked between steps.
func (tr *Transformer) Transform(ctx context.Context, t *tabular.Table, opts Options) (out *tabular.Table, stats Stats, err error) {
	start := time.Now()

	if t == nil {
		return nil, stats, etlerr.New(etlerr.TypeMismatch, "expected a table, got nil")
	}
	if verr := t.Validate(); verr != nil {
		return nil, stats, etlerr.Wrap(etlerr.TypeMismatch, verr, "invalid table")
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = etlerr.New(etlerr.TransformFailed, "unexpected transformation error: %v", r)
		}
	}()

	stats.RowsBefore = t.NumRows()
	stats.ColumnsBefore = t.NumCols()
	out = t.Clone()

	step := func(name string, fn func() (int, error)) error {
		if cerr := ctx.Err(); cerr != nil {
			return etlerr.Wrap(etlerr.Cancelled, cerr, "transform")
		}
		stepStart := time.Now()
		removed, serr := fn()
		if serr != nil {
			return etlerr.Wrap(etlerr.TransformFailed, serr, "%s", name)
		}
		stats.Steps = append(stats.Steps, StepDelta{
			Step:        name,
			RowsRemoved: removed,
			Duration:    time.Since(stepStart),
		})
		return nil
	}

	if opts.NormalizeColumns {
		err = step(StepNormalize, func() (int, error) {
			names, warnings := normalizeNames(out.Names())
			for i, c := range out.Columns {
				if c.Name != names[i] {
					stats.Renamed++
				}
				c.Name = names[i]
			}
			stats.Warnings = append(stats.Warnings, warnings...)
			return 0, nil
		})
		if err != nil {
			return nil, stats, err
		}
	}

	if opts.Missing != "" && opts.Missing != MissingNone {
		err = step(StepMissing, func() (int, error) {
			switch opts.Missing {
			case DropAll, DropAny:
				var dropped int
				out, dropped = dropRows(out, opts.Missing)
				stats.RowsDropped += dropped
				return dropped, nil
			case FillMean:
				filled, ferr := fillMean(out)
				stats.ValuesFilled += filled
				return 0, ferr
			default:
				return 0, fmt.Errorf("unknown strategy %q", opts.Missing)
			}
		})
		if err != nil {
			return nil, stats, err
		}
	}

	if opts.RemoveDuplicates {
		err = step(StepDedupe, func() (int, error) {
			deduped, removed, derr := removeDuplicates(out, opts.DedupeColumns)
			if derr != nil {
				return 0, derr
			}
			out = deduped
			stats.DuplicatesRemoved += removed
			return removed, nil
		})
		if err != nil {
			return nil, stats, err
		}
	}

	if opts.ConvertTypes {
		err = step(StepCoerce, func() (int, error) {
			stats.Conversions += coerceNumeric(out)
			return 0, nil
		})
		if err != nil {
			return nil, stats, err
		}
	}

	stats.RowsAfter = out.NumRows()
	stats.ColumnsAfter = out.NumCols()
	stats.Duration = time.Since(start)
	return out, stats, nil
}
