package config

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/JonMunkholm/flatetl/internal/extract"
	"github.com/JonMunkholm/flatetl/internal/fetch"
	"github.com/JonMunkholm/flatetl/internal/load"
	"github.com/JonMunkholm/flatetl/internal/output"
	"github.com/JonMunkholm/flatetl/internal/runner"
	"github.com/JonMunkholm/flatetl/internal/tabular"
	"github.com/JonMunkholm/flatetl/internal/transform"
)

// The accessors below convert a validated Config into stage options.
// Values Validate would reject fall back to the stage defaults.

// ExtractOptions returns the reader options.
func (c *Config) ExtractOptions() extract.Options {
	opts := extract.DefaultOptions()
	opts.Encoding = c.Extract.Encoding
	if r, err := parseDelimiter(c.Extract.Delimiter); err == nil {
		opts.Delimiter = r
	}
	if p, err := extract.ParseBadLinePolicy(c.Extract.OnBadLines); err == nil {
		opts.OnBadLines = p
	}
	opts.ChunkSize = c.Extract.ChunkSize
	opts.ChunkThreshold = int64(c.Extract.ChunkThresholdMB) << 20
	opts.MaxFileSize = int64(c.Extract.MaxFileSizeMB) << 20
	opts.DateColumns = c.Extract.DateColumns
	if types, err := parseColumnTypes(c.Extract.ColumnTypes); err == nil {
		opts.ColumnTypes = types
	}
	if len(c.Extract.NullValues) > 0 {
		opts.NullValues = c.Extract.NullValues
	}
	return opts
}

// TransformOptions returns the transformer options.
func (c *Config) TransformOptions() transform.Options {
	opts := transform.DefaultOptions()
	opts.NormalizeColumns = c.Transform.NormalizeColumns
	if m, err := transform.ParseMissingStrategy(c.Transform.Missing); err == nil {
		opts.Missing = m
	}
	opts.RemoveDuplicates = c.Transform.RemoveDuplicates
	opts.DedupeColumns = c.Transform.DedupeColumns
	opts.ConvertTypes = c.Transform.ConvertTypes
	return opts
}

// LoadOptions returns the per-write options.
func (c *Config) LoadOptions() load.Options {
	opts := load.DefaultOptions()
	if p, err := load.ParsePolicy(c.Destination.IfExists); err == nil {
		opts.IfExists = p
	}
	if c.Destination.ChunkSize > 0 {
		opts.ChunkSize = c.Destination.ChunkSize
	}
	return opts
}

// LoadEnabled reports whether a destination host is configured.
func (c *Config) LoadEnabled() bool {
	return c.DestinationConfig().Enabled()
}

// DestinationConfig returns the connection settings for load.Open.
func (c *Config) DestinationConfig() load.Config {
	d := c.Destination
	return load.Config{
		Driver:         strings.ToLower(d.Driver),
		Host:           strings.TrimSpace(d.Host),
		Port:           d.Port,
		User:           d.User,
		Password:       d.Password,
		Database:       d.Database,
		SSLMode:        d.SSLMode,
		MaxConns:       d.MaxConns,
		ConnectTimeout: d.ConnectTimeout,
	}
}

// OutputFormat returns the processed-file format.
func (c *Config) OutputFormat() output.Format {
	f, err := output.ParseFormat(c.Output.Format)
	if err != nil {
		return output.FormatCSV
	}
	return f
}

// FTPConfig returns the pre-fetch settings.
func (c *Config) FTPConfig() fetch.Config {
	return fetch.Config{
		Host:        c.FTP.Host,
		Port:        c.FTP.Port,
		User:        c.FTP.User,
		Password:    c.FTP.Password,
		RemoteDir:   c.FTP.RemoteDir,
		Pattern:     c.FTP.Pattern,
		Timeout:     c.FTP.Timeout,
		DeleteAfter: c.FTP.DeleteAfter,
	}
}

// ReportDir returns where run reports are written.
func (c *Config) ReportDir() string {
	if c.Pipeline.ReportDir != "" {
		return c.Pipeline.ReportDir
	}
	return c.Pipeline.LogDir
}

// PipelineConfig returns the pipeline runner settings.
func (c *Config) PipelineConfig() runner.PipelineConfig {
	return runner.PipelineConfig{
		RawDir:       c.Pipeline.RawDir,
		ProcessedDir: c.Pipeline.ProcessedDir,
		ReportDir:    c.ReportDir(),
		Pattern:      c.Pipeline.FilePattern,
		Workers:      c.Pipeline.Workers,
		Encoding:     c.Extract.Encoding,
	}
}

// FileOptions returns the per-file runner settings.
func (c *Config) FileOptions() runner.FileOptions {
	return runner.FileOptions{
		MaxRetries:   c.Pipeline.MaxRetries,
		ProcessedDir: c.Pipeline.ProcessedDir,
		OutputFormat: c.OutputFormat(),
		Extract:      c.ExtractOptions(),
		Transform:    c.TransformOptions(),
		Load:         c.LoadOptions(),
		LoadRequired: c.Destination.Required,
		Timeout:      c.Pipeline.FileTimeout,
	}
}

// parseDelimiter accepts a single character, or "tab" / `\t`.
func parseDelimiter(s string) (rune, error) {
	switch strings.ToLower(s) {
	case "tab", `\t`:
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || size != len(s) {
		return 0, fmt.Errorf("delimiter %q must be a single character", s)
	}
	if r == '"' || r == '\r' || r == '\n' {
		return 0, fmt.Errorf("delimiter %q is not allowed", s)
	}
	return r, nil
}

// parseColumnTypes parses name:type pairs.
func parseColumnTypes(pairs []string) (map[string]tabular.Type, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	types := make(map[string]tabular.Type, len(pairs))
	for _, pair := range pairs {
		name, typ, ok := strings.Cut(pair, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("entry %q must be name:type", pair)
		}
		t, err := tabular.ParseType(typ)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", name, err)
		}
		types[name] = t
	}
	return types, nil
}
