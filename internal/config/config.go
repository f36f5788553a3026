// Package config provides centralized configuration management for the pipeline.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Config holds all pipeline configuration.
// All settings can be configured via environment variables.
type Config struct {
	Pipeline    PipelineConfig
	Extract     ExtractConfig
	Transform   TransformConfig
	Output      OutputConfig
	Destination DestinationConfig
	Ledger      LedgerConfig
	FTP         FTPConfig
	Schedule    ScheduleConfig
	Server      ServerConfig
	Logging     LoggingConfig
}

// PipelineConfig holds directories and run-level settings.
type PipelineConfig struct {
	// RawDir is scanned for input files (default: data/raw)
	RawDir string `env:"PIPELINE_RAW_DIR" default:"data/raw"`

	// ProcessedDir receives the processed files (default: data/processed)
	ProcessedDir string `env:"PIPELINE_PROCESSED_DIR" default:"data/processed"`

	// LogDir receives pipeline.log (default: logs)
	LogDir string `env:"PIPELINE_LOG_DIR" default:"logs"`

	// MaxRetries is the total number of attempts per file (default: 3)
	MaxRetries int `env:"PIPELINE_MAX_RETRIES" default:"3"`

	// Workers is the number of files processed in parallel (default: 1)
	Workers int `env:"PIPELINE_WORKERS" default:"1"`

	// FilePattern selects input files by name (default: *.csv)
	FilePattern string `env:"PIPELINE_FILE_PATTERN" default:"*.csv"`

	// ReportDir receives run reports. Empty means LogDir.
	ReportDir string `env:"PIPELINE_REPORT_DIR"`

	// FileTimeout bounds one file, retries included. Zero means none.
	FileTimeout time.Duration `env:"PIPELINE_FILE_TIMEOUT" default:"0s"`
}

// ExtractConfig holds reader settings.
type ExtractConfig struct {
	Encoding   string `env:"EXTRACT_ENCODING" default:"utf-8"`
	Delimiter  string `env:"EXTRACT_DELIMITER" default:","`
	OnBadLines string `env:"EXTRACT_ON_BAD_LINES" default:"warn"`

	// ChunkSize is rows per chunk for large files (default: 10000)
	ChunkSize int `env:"EXTRACT_CHUNK_SIZE" default:"10000"`

	// ChunkThresholdMB is the size above which files are read in chunks (default: 50)
	ChunkThresholdMB int `env:"EXTRACT_CHUNK_THRESHOLD_MB" default:"50"`

	// MaxFileSizeMB rejects larger files as unreadable; 0 disables (default: 500)
	MaxFileSizeMB int `env:"EXTRACT_MAX_FILE_SIZE_MB" default:"500"`

	DateColumns []string `env:"EXTRACT_DATE_COLUMNS"`

	// ColumnTypes holds name:type pairs, e.g. "zip:string,amount:float"
	ColumnTypes []string `env:"EXTRACT_COLUMN_TYPES"`

	// NullValues replaces the default null tokens when set
	NullValues []string `env:"EXTRACT_NULL_VALUES"`
}

// TransformConfig holds transformer settings.
type TransformConfig struct {
	NormalizeColumns bool     `env:"TRANSFORM_NORMALIZE_COLUMNS" default:"true"`
	Missing          string   `env:"TRANSFORM_MISSING" envAlt:"TRANSFORM_DROP_HOW" default:"drop_all"`
	RemoveDuplicates bool     `env:"TRANSFORM_REMOVE_DUPLICATES" default:"true"`
	DedupeColumns    []string `env:"TRANSFORM_DEDUPE_COLUMNS"`
	ConvertTypes     bool     `env:"TRANSFORM_CONVERT_TYPES" default:"true"`
}

// OutputConfig holds processed-file settings.
type OutputConfig struct {
	// Format is csv or parquet (default: csv)
	Format string `env:"OUTPUT_FORMAT" default:"csv"`
}

// DestinationConfig holds the optional load target.
type DestinationConfig struct {
	// Driver is postgres, mysql, sqlserver, sqlite or mongodb (default: postgres)
	Driver string `env:"DEST_DRIVER" default:"postgres"`

	// Host enables loading when set. For sqlite it is the database file path.
	Host string `env:"POSTGRES_HOST" envAlt:"DEST_HOST"`

	// Port of the destination. Zero means the driver's default port.
	Port int `env:"POSTGRES_PORT" envAlt:"DEST_PORT"`

	User     string `env:"POSTGRES_USER" envAlt:"DEST_USER" default:"postgres"`
	Password string `env:"POSTGRES_PASSWORD" envAlt:"DEST_PASSWORD" default:"postgres"`
	Database string `env:"POSTGRES_DB" envAlt:"DEST_DB" default:"etl_db"`
	SSLMode  string `env:"DEST_SSLMODE" default:"disable"`

	MaxConns       int           `env:"DEST_MAX_CONNS" default:"10"`
	ConnectTimeout time.Duration `env:"DEST_CONNECT_TIMEOUT" default:"10s"`

	// IfExists is fail, replace or append (default: append)
	IfExists  string `env:"LOAD_IF_EXISTS" default:"append"`
	ChunkSize int    `env:"LOAD_CHUNK_SIZE" default:"5000"`

	// Required makes load failures fail the file (default: false)
	Required bool `env:"LOAD_REQUIRED" default:"false"`
}

// LedgerConfig holds the run history store.
type LedgerConfig struct {
	// Path of the SQLite ledger. Empty disables the ledger.
	Path string `env:"LEDGER_PATH"`
}

// FTPConfig holds the optional pre-fetch source.
type FTPConfig struct {
	// Host enables pre-fetching when set.
	Host        string        `env:"FTP_HOST"`
	Port        int           `env:"FTP_PORT" default:"21"`
	User        string        `env:"FTP_USER"`
	Password    string        `env:"FTP_PASSWORD"`
	RemoteDir   string        `env:"FTP_REMOTE_DIR" default:"/"`
	Pattern     string        `env:"FTP_PATTERN" default:"*.csv"`
	Timeout     time.Duration `env:"FTP_TIMEOUT" default:"30s"`
	DeleteAfter bool          `env:"FTP_DELETE_AFTER" default:"false"`
}

// ScheduleConfig holds the automatic triggers.
type ScheduleConfig struct {
	// Cron is a standard five-field expression or descriptor such as
	// @hourly. Empty disables the schedule.
	Cron string `env:"SCHEDULE_CRON"`

	// Watch runs the pipeline when files appear in the raw directory.
	Watch         bool          `env:"SCHEDULE_WATCH" default:"false"`
	WatchDebounce time.Duration `env:"SCHEDULE_WATCH_DEBOUNCE" default:"500ms"`

	// MaxWait is how long a trigger waits for an active run (default: 30s)
	MaxWait time.Duration `env:"SCHEDULE_MAX_WAIT" default:"30s"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	// Enabled starts the HTTP API (default: false)
	Enabled bool `env:"SERVER_ENABLED" default:"false"`

	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading a request (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing a response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including the active run (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// APIKeys protect POST /api/runs when set
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// String returns a safe string representation of the config for logging.
// Passwords and API keys are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Pipeline: {RawDir: %q, ProcessedDir: %q, LogDir: %q, MaxRetries: %d, Workers: %d}, ",
		c.Pipeline.RawDir, c.Pipeline.ProcessedDir, c.Pipeline.LogDir, c.Pipeline.MaxRetries, c.Pipeline.Workers)
	fmt.Fprintf(&b, "Extract: {Encoding: %q, OnBadLines: %q}, ", c.Extract.Encoding, c.Extract.OnBadLines)
	fmt.Fprintf(&b, "Transform: {Missing: %q}, ", c.Transform.Missing)
	fmt.Fprintf(&b, "Output: {Format: %q}, ", c.Output.Format)
	fmt.Fprintf(&b, "Destination: {Driver: %q, Host: %q, User: %q, Password: %s, Database: %q, IfExists: %q}, ",
		c.Destination.Driver, c.Destination.Host, c.Destination.User, mask(c.Destination.Password),
		c.Destination.Database, c.Destination.IfExists)
	fmt.Fprintf(&b, "FTP: {Host: %q, User: %q, Password: %s}, ", c.FTP.Host, c.FTP.User, mask(c.FTP.Password))
	fmt.Fprintf(&b, "Server: {Enabled: %v, Addr: %q, APIKeys: %d}, ", c.Server.Enabled, c.Server.Addr(), len(c.Server.APIKeys))
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}

func mask(secret string) string {
	if secret == "" {
		return `""`
	}
	return "[MASKED]"
}
