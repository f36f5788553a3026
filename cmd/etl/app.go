package main

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/flatetl/internal/config"
	"github.com/JonMunkholm/flatetl/internal/extract"
	"github.com/JonMunkholm/flatetl/internal/fetch"
	"github.com/JonMunkholm/flatetl/internal/ledger"
	"github.com/JonMunkholm/flatetl/internal/load"
	"github.com/JonMunkholm/flatetl/internal/logging"
	"github.com/JonMunkholm/flatetl/internal/output"
	"github.com/JonMunkholm/flatetl/internal/runner"
	"github.com/JonMunkholm/flatetl/internal/transform"
)

// app wires the pipeline from configuration and owns its connections.
type app struct {
	pipeline *runner.PipelineRunner
	writer   load.Writer
	ledger   *ledger.Ledger
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := logging.FromContext(ctx)
	a := &app{}
	fileOpts := cfg.FileOptions()

	sink, err := output.New(cfg.OutputFormat())
	if err != nil {
		return nil, err
	}

	if cfg.LoadEnabled() {
		dest := cfg.DestinationConfig()
		w, err := load.Open(ctx, dest)
		switch {
		case err != nil && cfg.Destination.Required:
			return nil, fmt.Errorf("open destination: %w", err)
		case err != nil:
			logger.Warn("destination unavailable, loads will be skipped", "driver", dest.Driver, "error", err)
			fileOpts.NoWriterReason = fmt.Sprintf("destination unavailable at startup: %v", err)
		default:
			logger.Info("destination connected", "driver", dest.Driver, "database", dest.Database)
			a.writer = w
		}
	} else {
		logger.Info("no destination configured, processed files only")
	}

	files := runner.NewFileRunner(extract.NewReader(), transform.NewTransformer(), sink, a.writer, fileOpts)
	a.pipeline = runner.NewPipelineRunner(cfg.PipelineConfig(), files)

	if ftpCfg := cfg.FTPConfig(); ftpCfg.Enabled() {
		f := fetch.NewFTPFetcher(ftpCfg)
		f.LogConfig(logger)
		a.pipeline.SetFetcher(f)
	}

	if cfg.Ledger.Path != "" {
		l, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		logger.Info("run ledger opened", "path", cfg.Ledger.Path)
		a.ledger = l
		a.pipeline.SetRecorder(l)
	}

	return a, nil
}

// Close releases the destination and ledger connections.
func (a *app) Close() {
	if a.writer != nil {
		if err := a.writer.Close(); err != nil {
			logging.FromContext(context.Background()).Warn("close destination", "error", err)
		}
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			logging.FromContext(context.Background()).Warn("close ledger", "error", err)
		}
	}
}
