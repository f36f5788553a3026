// Package output writes transformed tables to the processed-data area.
//
// Every sink writes to <path>.tmp and renames on success, so a failed
// write never leaves a partial processed file behind. Failures are
// output_error.
package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/flatetl/internal/etlerr"
	"github.com/JonMunkholm/flatetl/internal/tabular"
)

// Format selects the processed-file encoding.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// ParseFormat validates a format name. Empty means CSV.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatParquet:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want csv or parquet)", s)
	}
}

// Sink persists a table to a file path and returns the bytes written.
type Sink interface {
	Write(ctx context.Context, t *tabular.Table, path string) (int64, error)
}

// New returns the sink for format.
func New(format Format) (Sink, error) {
	switch format {
	case "", FormatCSV:
		return &CSVSink{}, nil
	case FormatParquet:
		return &ParquetSink{}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// OutputName returns the processed-file name for an input file: the input
// name for CSV, the input stem plus ".parquet" for Parquet.
func OutputName(input string, format Format) string {
	base := filepath.Base(input)
	if format == FormatParquet {
		return strings.TrimSuffix(base, filepath.Ext(base)) + ".parquet"
	}
	return base
}

// writeAtomic creates path.tmp, hands it to fill, and renames it over
// path once fill and Close succeed. The temp file is removed on failure.
func writeAtomic(ctx context.Context, path string, fill func(w io.Writer) error) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, etlerr.Wrap(etlerr.Cancelled, err, "write %s", filepath.Base(path))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, etlerr.Wrap(etlerr.OutputError, err, "create output directory")
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, etlerr.Wrap(etlerr.OutputError, err, "create %s", filepath.Base(tmp))
	}

	cw := &countingWriter{w: f}
	if err := fill(cw); err != nil {
		f.Close()
		os.Remove(tmp)
		if ctx.Err() != nil {
			return 0, etlerr.Wrap(etlerr.Cancelled, err, "write %s", filepath.Base(path))
		}
		return 0, etlerr.Wrap(etlerr.OutputError, err, "write %s", filepath.Base(path))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, etlerr.Wrap(etlerr.OutputError, err, "close %s", filepath.Base(tmp))
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, etlerr.Wrap(etlerr.OutputError, err, "rename %s", filepath.Base(tmp))
	}
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
