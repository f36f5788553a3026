package load

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	mssql "github.com/microsoft/go-mssqldb"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JonMunkholm/flatetl/internal/etlerr"
	"github.com/JonMunkholm/flatetl/internal/logging"
	"github.com/JonMunkholm/flatetl/internal/tabular"
)

// dialect captures what differs between the database/sql backends.
type dialect struct {
	name   string
	driver string

	dsn func(Config) string

	quote       func(string) string
	placeholder func(n int) string
	types       map[tabular.Type]string

	// existsQuery and columnsQuery take the table name as their only argument.
	existsQuery  string
	columnsQuery string

	// maxParams bounds the placeholders in one INSERT statement.
	maxParams int

	// bulkCopy uses mssql.CopyIn instead of multi-row INSERT.
	bulkCopy bool

	// maxOpenConns overrides Config.MaxConns when non-zero.
	maxOpenConns int

	classify func(error) etlerr.Kind
}

var mysqlDialect = &dialect{
	name:   "mysql",
	driver: "mysql",
	dsn: func(c Config) string {
		// Format: user:password@tcp(host:port)/dbname?parseTime=true
		dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&charset=utf8mb4",
			c.User, c.Password, c.hostPort(3306), c.Database)
		if c.SSLMode == "require" {
			dsn += "&tls=true"
		}
		return dsn
	},
	quote: func(s string) string {
		return "`" + strings.ReplaceAll(s, "`", "``") + "`"
	},
	placeholder: func(int) string { return "?" },
	types: map[tabular.Type]string{
		tabular.Null:      "TEXT",
		tabular.String:    "TEXT",
		tabular.Integer:   "BIGINT",
		tabular.Float:     "DOUBLE",
		tabular.Boolean:   "BOOLEAN",
		tabular.Timestamp: "DATETIME(6)",
	},
	existsQuery: `SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_name = ?`,
	columnsQuery: `SELECT column_name FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ? ORDER BY ordinal_position`,
	maxParams: 65535,
	classify:  classifyMySQL,
}

var sqlServerDialect = &dialect{
	name:   "sqlserver",
	driver: "sqlserver",
	dsn: func(c Config) string {
		q := url.Values{"database": {c.Database}}
		if c.SSLMode == "disable" {
			q.Set("encrypt", "disable")
		}
		if c.ConnectTimeout > 0 {
			q.Set("dial timeout", strconv.Itoa(int(c.ConnectTimeout/time.Second)))
		}
		u := url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(c.User, c.Password),
			Host:     c.hostPort(1433),
			RawQuery: q.Encode(),
		}
		return u.String()
	},
	quote: func(s string) string {
		return "[" + strings.ReplaceAll(s, "]", "]]") + "]"
	},
	placeholder: func(n int) string { return "@p" + strconv.Itoa(n) },
	types: map[tabular.Type]string{
		tabular.Null:      "NVARCHAR(MAX)",
		tabular.String:    "NVARCHAR(MAX)",
		tabular.Integer:   "BIGINT",
		tabular.Float:     "FLOAT",
		tabular.Boolean:   "BIT",
		tabular.Timestamp: "DATETIME2",
	},
	existsQuery:  `SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_NAME = @p1`,
	columnsQuery: `SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = @p1 ORDER BY ORDINAL_POSITION`,
	maxParams:    2100,
	bulkCopy:     true,
	classify:     classifySQLServer,
}

var sqliteDialect = &dialect{
	name:   "sqlite",
	driver: "sqlite",
	dsn: func(c Config) string {
		return c.Host + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	},
	quote: func(s string) string {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	},
	placeholder: func(int) string { return "?" },
	types: map[tabular.Type]string{
		tabular.Null:      "TEXT",
		tabular.String:    "TEXT",
		tabular.Integer:   "INTEGER",
		tabular.Float:     "REAL",
		tabular.Boolean:   "BOOLEAN",
		tabular.Timestamp: "TIMESTAMP",
	},
	existsQuery:  `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`,
	columnsQuery: `SELECT name FROM pragma_table_info(?)`,
	maxParams:    32766,
	// SQLite only supports one writer
	maxOpenConns: 1,
	classify:     classifySQLite,
}

// SQLWriter writes through database/sql using a dialect.
type SQLWriter struct {
	db      *sql.DB
	dialect *dialect
	locks   destLocks
}

func openSQL(ctx context.Context, d *dialect, cfg Config) (*SQLWriter, error) {
	db, err := sql.Open(d.driver, d.dsn(cfg))
	if err != nil {
		return nil, etlerr.Wrap(etlerr.ConnectionError, err, "open %s", d.name)
	}
	switch {
	case d.maxOpenConns > 0:
		db.SetMaxOpenConns(d.maxOpenConns)
	case cfg.MaxConns > 0:
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, etlerr.Wrap(etlerr.ConnectionError, err, "ping %s", d.name)
	}
	return &SQLWriter{db: db, dialect: d}, nil
}

// Close closes the database handle.
func (w *SQLWriter) Close() error {
	return w.db.Close()
}

// Write implements Writer.
func (w *SQLWriter) Write(ctx context.Context, t *tabular.Table, dest string, opts Options) (int, error) {
	if err := checkWrite(t, dest, opts); err != nil {
		return 0, err
	}
	if t.NumRows() == 0 {
		return 0, nil
	}

	unlock := w.locks.lock(dest)
	defer unlock()

	d := w.dialect
	logger := logging.WithFields(ctx, "destination", dest, "policy", opts.IfExists, "driver", d.name)

	exists, err := w.exists(ctx, dest)
	if err != nil {
		return 0, wrapError(ctx, err, d.classify, "check table %s", dest)
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
		if err := w.create(ctx, t, dest, exists); err != nil {
			return 0, err
		}
	case PolicyAppend:
		if exists {
			cols, err := w.columns(ctx, dest)
			if err != nil {
				return 0, wrapError(ctx, err, d.classify, "inspect table %s", dest)
			}
			logger.Info("appending to existing table", "columns", len(cols), "existing_columns", strings.Join(cols, ","))
		} else if err := w.create(ctx, t, dest, false); err != nil {
			return 0, err
		}
	}

	written := 0
	for _, b := range chunkBounds(t.NumRows(), opts.ChunkSize) {
		var err error
		if d.bulkCopy {
			err = w.copyChunk(ctx, t, dest, b[0], b[1])
		} else {
			err = w.insertChunk(ctx, t, dest, b[0], b[1])
		}
		if err != nil {
			return written, wrapError(ctx, err, d.classify, "write rows %d-%d into %s", b[0], b[1], dest)
		}
		written += b[1] - b[0]
	}
	return written, nil
}

// insertChunk writes rows [start, end) as multi-row INSERT statements in
// one transaction.
func (w *SQLWriter) insertChunk(ctx context.Context, t *tabular.Table, dest string, start, end int) error {
	d := w.dialect
	cols := make([]string, t.NumCols())
	for i, name := range t.Names() {
		cols[i] = d.quote(name)
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", d.quote(dest), strings.Join(cols, ", "))

	perStmt := max(1, d.maxParams/max(1, t.NumCols()))

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for s := start; s < end; s += perStmt {
		e := min(s+perStmt, end)
		var b strings.Builder
		b.WriteString(prefix)
		args := make([]any, 0, (e-s)*t.NumCols())
		for r := s; r < e; r++ {
			if r > s {
				b.WriteString(", ")
			}
			b.WriteByte('(')
			for j, v := range t.Row(r) {
				if j > 0 {
					b.WriteString(", ")
				}
				args = append(args, v)
				b.WriteString(d.placeholder(len(args)))
			}
			b.WriteByte(')')
		}
		if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// copyChunk bulk-copies rows [start, end) with mssql.CopyIn in one
// transaction.
func (w *SQLWriter) copyChunk(ctx context.Context, t *tabular.Table, dest string, start, end int) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(w.dialect.quote(dest), mssql.BulkOptions{}, t.Names()...))
	if err != nil {
		return fmt.Errorf("prepare bulk copy: %w", err)
	}
	defer stmt.Close()

	for r := start; r < end; r++ {
		if _, err := stmt.ExecContext(ctx, t.Row(r)...); err != nil {
			return fmt.Errorf("row %d: %w", r, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("flush bulk copy: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (w *SQLWriter) exists(ctx context.Context, dest string) (bool, error) {
	var n int
	if err := w.db.QueryRowContext(ctx, w.dialect.existsQuery, dest).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (w *SQLWriter) columns(ctx context.Context, dest string) ([]string, error) {
	rows, err := w.db.QueryContext(ctx, w.dialect.columnsQuery, dest)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// create issues CREATE TABLE, dropping the existing table first when drop
// is set.
func (w *SQLWriter) create(ctx context.Context, t *tabular.Table, dest string, drop bool) error {
	d := w.dialect
	defs := make([]string, t.NumCols())
	for i, c := range t.Columns {
		defs[i] = d.quote(c.Name) + " " + d.types[c.Type]
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError(ctx, err, d.classify, "begin transaction")
	}
	defer tx.Rollback()

	if drop {
		if _, err := tx.ExecContext(ctx, "DROP TABLE "+d.quote(dest)); err != nil {
			return wrapError(ctx, err, d.classify, "drop table %s", dest)
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", d.quote(dest), strings.Join(defs, ", "))); err != nil {
		return wrapError(ctx, err, d.classify, "create table %s", dest)
	}
	if err := tx.Commit(); err != nil {
		return wrapError(ctx, err, d.classify, "commit create table %s", dest)
	}
	return nil
}

func isBadConn(err error) bool {
	return errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || isNetworkError(err)
}

// classifyMySQL treats access denied (1044, 1045), unknown database (1049)
// and broken connections as connection errors.
func classifyMySQL(err error) etlerr.Kind {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1044, 1045, 1049:
			return etlerr.ConnectionError
		}
		return etlerr.WriteError
	}
	if errors.Is(err, mysql.ErrInvalidConn) || isBadConn(err) {
		return etlerr.ConnectionError
	}
	return etlerr.WriteError
}

// classifySQLServer treats login failures (18456) and unopenable
// databases (4060) as connection errors.
func classifySQLServer(err error) etlerr.Kind {
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		switch msErr.Number {
		case 18456, 4060:
			return etlerr.ConnectionError
		}
		return etlerr.WriteError
	}
	if isBadConn(err) {
		return etlerr.ConnectionError
	}
	return etlerr.WriteError
}

// classifySQLite treats files that cannot be opened or are not databases
// as connection errors.
func classifySQLite(err error) etlerr.Kind {
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_AUTH, sqlite3.SQLITE_PERM:
			return etlerr.ConnectionError
		}
		return etlerr.WriteError
	}
	if isBadConn(err) {
		return etlerr.ConnectionError
	}
	return etlerr.WriteError
}
