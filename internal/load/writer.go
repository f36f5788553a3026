// Package load persists tables to a destination store.
//
// A Writer owns its connection pool and serializes writes to the same
// destination name. Every backend follows the same contract:
//
//   - An empty destination name or an unknown policy is a write_error
//     before any I/O.
//   - A table with zero rows is a no-op that reports zero rows written.
//   - fail returns already_exists when the destination exists.
//   - replace drops and recreates the destination.
//   - append logs the existing column set and appends without
//     reconciling schemas.
//   - Rows are written in chunks, each committed on its own. A failure
//     mid-write returns the rows committed so far with the error.
//
// Connection-level failures are classified connection_error and data-level
// failures write_error.
package load

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/flatetl/internal/etlerr"
	"github.com/JonMunkholm/flatetl/internal/tabular"
	"github.com/JonMunkholm/flatetl/internal/transform"
)

// Policy decides what happens when the destination already exists.
type Policy string

const (
	PolicyFail    Policy = "fail"
	PolicyReplace Policy = "replace"
	PolicyAppend  Policy = "append"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyFail, PolicyReplace, PolicyAppend:
		return p, nil
	default:
		return "", fmt.Errorf("invalid if_exists policy %q (want fail, replace or append)", s)
	}
}

// DefaultChunkSize is the number of rows committed per chunk.
const DefaultChunkSize = 5000

// Options control a single write.
type Options struct {
	IfExists  Policy
	ChunkSize int
}

// DefaultOptions appends in chunks of DefaultChunkSize.
func DefaultOptions() Options {
	return Options{IfExists: PolicyAppend, ChunkSize: DefaultChunkSize}
}

// Writer persists tables to named destinations.
type Writer interface {
	// Write stores t under dest and returns the number of rows committed.
	Write(ctx context.Context, t *tabular.Table, dest string, opts Options) (int, error)
	Close() error
}

// Supported drivers.
const (
	DriverPostgres  = "postgres"
	DriverMySQL     = "mysql"
	DriverSQLServer = "sqlserver"
	DriverSQLite    = "sqlite"
	DriverMongoDB   = "mongodb"
)

// Config describes how to reach the destination store.
type Config struct {
	Driver   string
	Host     string // for sqlite, the database file path
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxConns       int
	ConnectTimeout time.Duration
}

// Enabled reports whether a destination is configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Host) != ""
}

func (c Config) hostPort(defaultPort int) string {
	port := c.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Open connects to the configured store and verifies the connection.
// Connection failures are connection_error.
func Open(ctx context.Context, cfg Config) (Writer, error) {
	if !cfg.Enabled() {
		return nil, etlerr.New(etlerr.ConnectionError, "no destination host configured")
	}
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	switch strings.ToLower(cfg.Driver) {
	case "", DriverPostgres, "postgresql":
		return openPostgres(ctx, cfg)
	case DriverMySQL:
		return openSQL(ctx, mysqlDialect, cfg)
	case DriverSQLServer, "mssql":
		return openSQL(ctx, sqlServerDialect, cfg)
	case DriverSQLite:
		return openSQL(ctx, sqliteDialect, cfg)
	case DriverMongoDB, "mongo":
		return openMongo(ctx, cfg)
	default:
		return nil, etlerr.New(etlerr.ConnectionError, "unsupported destination driver %q", cfg.Driver)
	}
}

// DestinationName derives the destination name for a source file: the
// file stem normalized like a column name, or "table" when nothing is left.
func DestinationName(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if name := transform.NormalizeName(stem); name != "" {
		return name
	}
	return "table"
}

// checkWrite validates a write request before any I/O.
func checkWrite(t *tabular.Table, dest string, opts Options) error {
	if t == nil {
		return etlerr.New(etlerr.WriteError, "expected a table, got nil")
	}
	if strings.TrimSpace(dest) == "" {
		return etlerr.New(etlerr.WriteError, "invalid destination name %q", dest)
	}
	if _, err := ParsePolicy(string(opts.IfExists)); err != nil {
		return etlerr.Wrap(etlerr.WriteError, err, "invalid options")
	}
	return nil
}

// chunkBounds splits n rows into [start, end) ranges of at most size rows.
func chunkBounds(n, size int) [][2]int {
	if size <= 0 {
		size = DefaultChunkSize
	}
	bounds := make([][2]int, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		bounds = append(bounds, [2]int{start, min(start+size, n)})
	}
	return bounds
}

// wrapError classifies err with classify unless ctx has ended, in which
// case it is cancellation.
func wrapError(ctx context.Context, err error, classify func(error) etlerr.Kind, format string, args ...any) error {
	if ctx.Err() != nil {
		return etlerr.Wrap(etlerr.Cancelled, err, format, args...)
	}
	return etlerr.Wrap(classify(err), err, format, args...)
}

// isNetworkError reports transport-level failures common to all drivers.
func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}
