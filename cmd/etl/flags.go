package main

import (
	"flag"
	"os"

	"github.com/JonMunkholm/flatetl/internal/config"
)

// flags holds command-line overrides. Unset flags leave the environment
// configuration alone.
type flags struct {
	once      bool
	serve     bool
	watch     bool
	schedule  string
	raw       string
	processed string

	set map[string]bool
}

func parseFlags(args []string) (*flags, error) {
	fl := &flags{set: map[string]bool{}}
	fs := flag.NewFlagSet("etl", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.BoolVar(&fl.once, "once", false, "run the pipeline once and exit (default when no trigger is enabled)")
	fs.BoolVar(&fl.serve, "serve", false, "serve the HTTP API (overrides SERVER_ENABLED)")
	fs.BoolVar(&fl.watch, "watch", false, "run when files appear in the raw directory (overrides SCHEDULE_WATCH)")
	fs.StringVar(&fl.schedule, "schedule", "", "cron expression for scheduled runs (overrides SCHEDULE_CRON)")
	fs.StringVar(&fl.raw, "raw", "", "raw input directory (overrides PIPELINE_RAW_DIR)")
	fs.StringVar(&fl.processed, "processed", "", "processed output directory (overrides PIPELINE_PROCESSED_DIR)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) { fl.set[f.Name] = true })
	return fl, nil
}

// apply writes explicitly set flags into cfg.
func (fl *flags) apply(cfg *config.Config) {
	if fl.set["serve"] {
		cfg.Server.Enabled = fl.serve
	}
	if fl.set["watch"] {
		cfg.Schedule.Watch = fl.watch
	}
	if fl.set["schedule"] {
		cfg.Schedule.Cron = fl.schedule
	}
	if fl.raw != "" {
		cfg.Pipeline.RawDir = fl.raw
	}
	if fl.processed != "" {
		cfg.Pipeline.ProcessedDir = fl.processed
	}
}

// mode is the resolved way the process runs.
type mode struct {
	once  bool
	serve bool
	watch bool
	cron  string
}

// selectMode runs once when -once is given or no trigger is enabled.
func selectMode(fl *flags, cfg *config.Config) mode {
	m := mode{
		serve: cfg.Server.Enabled,
		watch: cfg.Schedule.Watch,
		cron:  cfg.Schedule.Cron,
	}
	if fl.once || (!m.serve && !m.watch && m.cron == "") {
		return mode{once: true}
	}
	return m
}
