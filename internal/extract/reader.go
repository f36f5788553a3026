// Package extract reads delimited text files into tabular tables.
//
// The reader validates the path, decodes the declared encoding, parses
// the header and rows with encoding/csv, applies the bad-line policy and
// finally types each column. It never logs: statistics are returned to the
// caller with the table.
package extract

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JonMunkholm/flatetl/internal/etlerr"
	"github.com/JonMunkholm/flatetl/internal/tabular"
)

// BadLinePolicy decides what happens to rows whose field count differs
// from the header.
type BadLinePolicy string

const (
	// BadLinesWarn pads short rows with nulls and drops long rows, recording a warning for each.
	BadLinesWarn BadLinePolicy = "warn"
	// BadLinesSkip drops malformed rows without a warning.
	BadLinesSkip BadLinePolicy = "skip"
	// BadLinesError fails the read at the first malformed row.
	BadLinesError BadLinePolicy = "error"
)

// ParseBadLinePolicy validates a policy name.
func ParseBadLinePolicy(s string) (BadLinePolicy, error) {
	switch p := BadLinePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case BadLinesWarn, BadLinesSkip, BadLinesError:
		return p, nil
	default:
		return "", fmt.Errorf("unknown bad line policy %q (want warn, skip or error)", s)
	}
}

const (
	// DefaultChunkThreshold is the file size above which chunked reading applies.
	DefaultChunkThreshold int64 = 50 << 20

	// maxWarnings bounds Stats.Warnings; the rest are summarised in one line.
	maxWarnings = 50

	// ctxCheckInterval is how many rows are parsed between cancellation checks
	// when not chunking.
	ctxCheckInterval = 4096
)

// Options control a single read.
type Options struct {
	Encoding       string
	Delimiter      rune
	ColumnTypes    map[string]tabular.Type
	DateColumns    []string
	ChunkSize      int
	ChunkThreshold int64
	MaxFileSize    int64
	OnBadLines     BadLinePolicy

	// NullValues replaces DefaultNullValues when non-nil.
	NullValues []string
}

// DefaultOptions returns UTF-8, comma-delimited, warn-on-bad-lines options.
func DefaultOptions() Options {
	return Options{
		Encoding:       DefaultEncoding,
		Delimiter:      ',',
		ChunkThreshold: DefaultChunkThreshold,
		OnBadLines:     BadLinesWarn,
	}
}

// Stats describes a completed read.
type Stats struct {
	Path     string        `json:"path"`
	Bytes    int64         `json:"bytes"`
	Rows     int           `json:"rows"`
	Columns  int           `json:"columns"`
	Encoding string        `json:"encoding"`
	Duration time.Duration `json:"duration"`
	Chunks   int           `json:"chunks"`
	BadLines int           `json:"bad_lines"`
	Warnings []string      `json:"warnings,omitempty"`
}

// SizeMB returns the file size in mebibytes.
func (s Stats) SizeMB() float64 {
	return float64(s.Bytes) / (1 << 20)
}

func (s *Stats) warn(format string, args ...any) {
	switch {
	case len(s.Warnings) < maxWarnings:
		s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
	case len(s.Warnings) == maxWarnings:
		s.Warnings = append(s.Warnings, "further warnings suppressed")
	}
}

// Reader reads delimited files. The zero value is ready to use.
type Reader struct{}

// NewReader creates a reader.
func NewReader() *Reader {
	return &Reader{}
}

// Read loads the file at path.
//
// Errors are *etlerr.Error with kinds NotFound, Empty, Unreadable,
// EncodingError or ParseError, or Cancelled when ctx ends mid-read.
func (r *Reader) Read(ctx context.Context, path string, opts Options) (*tabular.Table, Stats, error) {
	start := time.Now()
	stats := Stats{Path: path}

	size, err := checkFile(path, opts.MaxFileSize)
	if err != nil {
		return nil, stats, err
	}
	stats.Bytes = size

	f, err := os.Open(path)
	if err != nil {
		return nil, stats, etlerr.Wrap(etlerr.Unreadable, err, "open %s", path)
	}
	defer f.Close()

	src, err := newDecodedSource(f, opts.Encoding)
	if err != nil {
		return nil, stats, etlerr.Wrap(etlerr.EncodingError, err, "decode %s", path)
	}
	stats.Encoding = src.encoding

	cr := csv.NewReader(src)
	cr.Comma = opts.Delimiter
	if cr.Comma == 0 {
		cr.Comma = ','
	}
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, stats, etlerr.New(etlerr.Empty, "%s: no header row", path)
	}
	if err != nil {
		return nil, stats, classifyReadError(path, err)
	}
	if len(header) == 1 && strings.TrimSpace(header[0]) == "" {
		return nil, stats, etlerr.New(etlerr.Empty, "%s: no header row", path)
	}

	names := headerNames(header)
	batch := 0
	threshold := opts.ChunkThreshold
	if threshold <= 0 {
		threshold = DefaultChunkThreshold
	}
	if opts.ChunkSize > 0 && size > threshold {
		batch = opts.ChunkSize
	}

	p := &rowParser{
		cr:      cr,
		path:    path,
		names:   names,
		nulls:   nullSet(opts.NullValues),
		policy:  opts.OnBadLines,
		checkFF: !src.strict,
		stats:   &stats,
	}
	if p.policy == "" {
		p.policy = BadLinesWarn
	}

	var table *tabular.Table
	for {
		if err := ctx.Err(); err != nil {
			return nil, stats, etlerr.Wrap(etlerr.Cancelled, err, "read %s", path)
		}
		chunk, done, err := p.next(ctx, batch)
		if err != nil {
			return nil, stats, err
		}
		if chunk.NumRows() > 0 || table == nil {
			stats.Chunks++
			if table == nil {
				table = chunk
			} else if err := table.Append(chunk); err != nil {
				return nil, stats, etlerr.Wrap(etlerr.ParseError, err, "%s: concatenate chunks", path)
			}
		}
		if done {
			break
		}
	}

	warnings, err := applyTypes(table, opts.ColumnTypes, opts.DateColumns)
	for _, w := range warnings {
		stats.warn("%s", w)
	}
	if err != nil {
		return nil, stats, etlerr.Wrap(etlerr.ParseError, err, "%s", path)
	}

	stats.Rows = table.NumRows()
	stats.Columns = table.NumCols()
	if stats.Rows == 0 {
		stats.warn("file has a header but no data rows")
	}
	stats.Duration = time.Since(start)
	return table, stats, nil
}

// checkFile classifies the path and returns its size.
func checkFile(path string, maxSize int64) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, etlerr.Wrap(etlerr.NotFound, err, "file not found")
	}
	if err != nil {
		return 0, etlerr.Wrap(etlerr.Unreadable, err, "stat %s", path)
	}
	if !info.Mode().IsRegular() {
		return 0, etlerr.New(etlerr.Unreadable, "%s is not a regular file", path)
	}
	if info.Size() == 0 {
		return 0, etlerr.New(etlerr.Empty, "%s is empty", path)
	}
	if maxSize > 0 && info.Size() > maxSize {
		return 0, etlerr.New(etlerr.Unreadable, "%s is %d bytes, limit is %d", path, info.Size(), maxSize)
	}
	return info.Size(), nil
}

func classifyReadError(path string, err error) error {
	var invalid *InvalidByteError
	if errors.As(err, &invalid) {
		return etlerr.Wrap(etlerr.EncodingError, err, "%s", path)
	}
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return etlerr.Wrap(etlerr.ParseError, err, "%s", path)
	}
	return etlerr.Wrap(etlerr.Unreadable, err, "read %s", path)
}

// rowParser turns CSV records into raw text columns.
type rowParser struct {
	cr     *csv.Reader
	path   string
	names  []string
	nulls  map[string]struct{}
	policy BadLinePolicy

	// checkFF enables the per-field U+FFFD check for substituting decoders.
	checkFF bool

	stats *Stats
}

// next reads up to limit rows (all remaining rows when limit is 0) into a
// table of String columns. done is true once the input is exhausted.
func (p *rowParser) next(ctx context.Context, limit int) (*tabular.Table, bool, error) {
	cols := make([][]any, len(p.names))
	rows := 0
	for limit == 0 || rows < limit {
		if limit == 0 && rows > 0 && rows%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, false, etlerr.Wrap(etlerr.Cancelled, err, "read %s", p.path)
			}
		}

		rec, err := p.cr.Read()
		if err == io.EOF {
			return p.build(cols), true, nil
		}
		if err != nil {
			return nil, false, classifyReadError(p.path, err)
		}
		line, _ := p.cr.FieldPos(0)

		if len(rec) != len(p.names) {
			keep, err := p.badLine(line, rec)
			if err != nil {
				return nil, false, err
			}
			if !keep {
				continue
			}
		}

		for j := range p.names {
			if j >= len(rec) {
				cols[j] = append(cols[j], nil)
				continue
			}
			field := rec[j]
			if p.checkFF && strings.ContainsRune(field, utf8.RuneError) {
				return nil, false, etlerr.New(etlerr.EncodingError,
					"%s: line %d column %q has bytes invalid for %s", p.path, line, p.names[j], p.stats.Encoding)
			}
			if _, isNull := p.nulls[field]; isNull {
				cols[j] = append(cols[j], nil)
			} else {
				cols[j] = append(cols[j], field)
			}
		}
		rows++
	}
	return p.build(cols), false, nil
}

// badLine applies the policy to a record with the wrong field count and
// reports whether the (padded) record is kept.
func (p *rowParser) badLine(line int, rec []string) (bool, error) {
	want := len(p.names)
	switch p.policy {
	case BadLinesError:
		return false, etlerr.New(etlerr.ParseError,
			"%s: line %d: expected %d fields, saw %d", p.path, line, want, len(rec))
	case BadLinesSkip:
		p.stats.BadLines++
		return false, nil
	default:
		p.stats.BadLines++
		if len(rec) < want {
			p.stats.warn("line %d: expected %d fields, saw %d; padded with nulls", line, want, len(rec))
			return true, nil
		}
		p.stats.warn("line %d: expected %d fields, saw %d; row dropped", line, want, len(rec))
		return false, nil
	}
}

func (p *rowParser) build(cols [][]any) *tabular.Table {
	t := &tabular.Table{Columns: make([]*tabular.Column, len(p.names))}
	for j, name := range p.names {
		t.Columns[j] = tabular.NewColumn(name, tabular.String, cols[j])
	}
	return t
}
