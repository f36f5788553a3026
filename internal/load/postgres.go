package load

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/flatetl/internal/etlerr"
	"github.com/JonMunkholm/flatetl/internal/logging"
	"github.com/JonMunkholm/flatetl/internal/tabular"
)

var pgTypes = map[tabular.Type]string{
	tabular.Null:      "TEXT",
	tabular.String:    "TEXT",
	tabular.Integer:   "BIGINT",
	tabular.Float:     "DOUBLE PRECISION",
	tabular.Boolean:   "BOOLEAN",
	tabular.Timestamp: "TIMESTAMPTZ",
}

// PostgresWriter writes to PostgreSQL through a pgx pool using COPY.
type PostgresWriter struct {
	pool  *pgxpool.Pool
	locks destLocks
}

// postgresURL builds the connection string from cfg.
func postgresURL(cfg Config) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   cfg.hostPort(5432),
		Path:   "/" + cfg.Database,
	}
	if cfg.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {cfg.SSLMode}}.Encode()
	}
	return u.String()
}

func openPostgres(ctx context.Context, cfg Config) (*PostgresWriter, error) {
	poolConfig, err := pgxpool.ParseConfig(postgresURL(cfg))
	if err != nil {
		return nil, etlerr.Wrap(etlerr.ConnectionError, err, "parse postgres config")
	}

	// Apply pool configuration from config
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, etlerr.Wrap(etlerr.ConnectionError, err, "connect to postgres")
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrapError(ctx, err, classifyPostgres, "ping postgres %s/%s", cfg.hostPort(5432), cfg.Database)
	}
	return &PostgresWriter{pool: pool}, nil
}

// Close releases the pool.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}

// Write implements Writer.
func (w *PostgresWriter) Write(ctx context.Context, t *tabular.Table, dest string, opts Options) (int, error) {
	if err := checkWrite(t, dest, opts); err != nil {
		return 0, err
	}
	if t.NumRows() == 0 {
		return 0, nil
	}

	unlock := w.locks.lock(dest)
	defer unlock()

	logger := logging.WithFields(ctx, "destination", dest, "policy", opts.IfExists)

	exists, err := w.exists(ctx, dest)
	if err != nil {
		return 0, wrapError(ctx, err, classifyPostgres, "check table %s", dest)
	}

	switch opts.IfExists {
	case PolicyFail:
		if exists {
			return 0, etlerr.New(etlerr.AlreadyExists, "table %q already exists", dest)
		}
		if err := w.create(ctx, t, dest, false); err != nil {
			return 0, err
		}
	case PolicyReplace:
		logger.Info("replacing table")
		if err := w.create(ctx, t, dest, true); err != nil {
			return 0, err
		}
	case PolicyAppend:
		if exists {
			cols, err := w.columns(ctx, dest)
			if err != nil {
				return 0, wrapError(ctx, err, classifyPostgres, "inspect table %s", dest)
			}
			logger.Info("appending to existing table", "columns", len(cols), "existing_columns", strings.Join(cols, ","))
		} else if err := w.create(ctx, t, dest, false); err != nil {
			return 0, err
		}
	}

	names := t.Names()
	written := 0
	for _, b := range chunkBounds(t.NumRows(), opts.ChunkSize) {
		n, err := w.copyChunk(ctx, t, dest, names, b[0], b[1])
		if err != nil {
			return written, wrapError(ctx, err, classifyPostgres, "copy rows %d-%d into %s", b[0], b[1], dest)
		}
		written += n
	}
	return written, nil
}

// copyChunk copies rows [start, end) in its own transaction.
func (w *PostgresWriter) copyChunk(ctx context.Context, t *tabular.Table, dest string, names []string, start, end int) (int, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	src := pgx.CopyFromSlice(end-start, func(i int) ([]any, error) {
		return t.Row(start + i), nil
	})
	n, err := tx.CopyFrom(ctx, pgx.Identifier{dest}, names, src)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int(n), nil
}

func (w *PostgresWriter) exists(ctx context.Context, dest string) (bool, error) {
	var exists bool
	err := w.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1
		)`, dest).Scan(&exists)
	return exists, err
}

func (w *PostgresWriter) columns(ctx context.Context, dest string) ([]string, error) {
	rows, err := w.pool.Query(ctx,
		`SELECT column_name FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`, dest)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// create issues CREATE TABLE, dropping any existing table first when drop
// is set. Both run in one transaction.
func (w *PostgresWriter) create(ctx context.Context, t *tabular.Table, dest string, drop bool) error {
	table := pgx.Identifier{dest}.Sanitize()
	defs := make([]string, t.NumCols())
	for i, c := range t.Columns {
		defs[i] = pgx.Identifier{c.Name}.Sanitize() + " " + pgTypes[c.Type]
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return wrapError(ctx, err, classifyPostgres, "begin transaction")
	}
	defer tx.Rollback(ctx)

	if drop {
		if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return wrapError(ctx, err, classifyPostgres, "drop table %s", dest)
		}
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))); err != nil {
		return wrapError(ctx, err, classifyPostgres, "create table %s", dest)
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapError(ctx, err, classifyPostgres, "commit create table %s", dest)
	}
	return nil
}

// classifyPostgres maps pgx errors to load kinds. Connection setup
// failures, network errors and SQLSTATE classes 08 (connection exception)
// and 28 (invalid authorization) plus 3D000 (invalid catalog name) are
// connection errors.
func classifyPostgres(err error) etlerr.Kind {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return etlerr.ConnectionError
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "28") || pgErr.Code == "3D000" {
			return etlerr.ConnectionError
		}
		return etlerr.WriteError
	}
	if isNetworkError(err) {
		return etlerr.ConnectionError
	}
	return etlerr.WriteError
}
