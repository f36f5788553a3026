package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/JonMunkholm/flatetl/internal/extract"
	"github.com/JonMunkholm/flatetl/internal/load"
	"github.com/JonMunkholm/flatetl/internal/output"
	"github.com/JonMunkholm/flatetl/internal/transform"
)

// LookupFunc returns the value of an environment variable.
type LookupFunc func(key string) string

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom is Load with an explicit variable source.
func LoadFrom(lookup LookupFunc) (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem(), lookup); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadStruct recursively populates struct fields from lookup.
func loadStruct(v reflect.Value, lookup LookupFunc) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal, lookup); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		// Primary name wins over the alternate
		value := lookup(envName)
		if value == "" && envAlt != "" {
			value = lookup(envAlt)
		}

		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}
		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(strings.TrimSpace(value))
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Bool:
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		field.Set(reflect.ValueOf(splitList(value)))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// splitList splits a comma-separated value, trimming entries and dropping
// empty ones.
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	// Pipeline
	if strings.TrimSpace(c.Pipeline.RawDir) == "" {
		add("PIPELINE_RAW_DIR must not be empty")
	}
	if strings.TrimSpace(c.Pipeline.ProcessedDir) == "" {
		add("PIPELINE_PROCESSED_DIR must not be empty")
	}
	if c.Pipeline.MaxRetries < 1 {
		add("PIPELINE_MAX_RETRIES (%d) must be at least 1", c.Pipeline.MaxRetries)
	}
	if c.Pipeline.Workers < 1 {
		add("PIPELINE_WORKERS (%d) must be at least 1", c.Pipeline.Workers)
	}
	if _, err := filepath.Match(c.Pipeline.FilePattern, ""); err != nil {
		add("PIPELINE_FILE_PATTERN (%q) is not a valid pattern", c.Pipeline.FilePattern)
	}
	if c.Pipeline.FileTimeout < 0 {
		add("PIPELINE_FILE_TIMEOUT must be non-negative")
	}

	// Extract
	if _, err := parseDelimiter(c.Extract.Delimiter); err != nil {
		add("EXTRACT_DELIMITER: %v", err)
	}
	if _, err := extract.ParseBadLinePolicy(c.Extract.OnBadLines); err != nil {
		add("EXTRACT_ON_BAD_LINES: %v", err)
	}
	if c.Extract.ChunkSize < 0 {
		add("EXTRACT_CHUNK_SIZE must be non-negative")
	}
	if c.Extract.ChunkThresholdMB < 0 {
		add("EXTRACT_CHUNK_THRESHOLD_MB must be non-negative")
	}
	if c.Extract.MaxFileSizeMB < 0 {
		add("EXTRACT_MAX_FILE_SIZE_MB must be non-negative")
	}
	if _, err := parseColumnTypes(c.Extract.ColumnTypes); err != nil {
		add("EXTRACT_COLUMN_TYPES: %v", err)
	}

	// Transform
	if _, err := transform.ParseMissingStrategy(c.Transform.Missing); err != nil {
		add("TRANSFORM_MISSING: %v", err)
	}

	// Output
	if _, err := output.ParseFormat(c.Output.Format); err != nil {
		add("OUTPUT_FORMAT: %v", err)
	}

	// Destination
	if !validDrivers[strings.ToLower(c.Destination.Driver)] {
		add("DEST_DRIVER (%q) must be one of: postgres, mysql, sqlserver, sqlite, mongodb", c.Destination.Driver)
	}
	if c.Destination.Port < 0 || c.Destination.Port > 65535 {
		add("POSTGRES_PORT (%d) must be 0-65535", c.Destination.Port)
	}
	if _, err := load.ParsePolicy(c.Destination.IfExists); err != nil {
		add("LOAD_IF_EXISTS: %v", err)
	}
	if c.Destination.ChunkSize <= 0 {
		add("LOAD_CHUNK_SIZE must be positive")
	}
	if c.Destination.MaxConns <= 0 {
		add("DEST_MAX_CONNS must be positive")
	}
	if c.Destination.Required && !c.LoadEnabled() {
		add("LOAD_REQUIRED is true but POSTGRES_HOST is not set")
	}

	// FTP
	if c.FTP.Host != "" && (c.FTP.Port <= 0 || c.FTP.Port > 65535) {
		add("FTP_PORT (%d) must be 1-65535", c.FTP.Port)
	}
	if _, err := filepath.Match(c.FTP.Pattern, ""); err != nil {
		add("FTP_PATTERN (%q) is not a valid pattern", c.FTP.Pattern)
	}

	// Schedule
	if c.Schedule.Cron != "" {
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			add("SCHEDULE_CRON (%q): %v", c.Schedule.Cron, err)
		}
	}
	if c.Schedule.WatchDebounce <= 0 {
		add("SCHEDULE_WATCH_DEBOUNCE must be positive")
	}
	if c.Schedule.MaxWait <= 0 {
		add("SCHEDULE_MAX_WAIT must be positive")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("SERVER_PORT (%d) must be 1-65535", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 {
		add("SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		add("SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		add("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level)
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		add("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format)
	}

	if len(errs) > 0 {
		return errors.New("validation failed:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}

var validDrivers = map[string]bool{
	load.DriverPostgres:  true,
	load.DriverMySQL:     true,
	load.DriverSQLServer: true,
	load.DriverSQLite:    true,
	load.DriverMongoDB:   true,
}
