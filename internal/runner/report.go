package runner

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// LastRunFile is the report name that always holds the newest run.
const LastRunFile = "last_run.json"

var banner = strings.Repeat("=", 80)

// LogReport writes the human-readable summary of run to logger.
func (run *PipelineRun) LogReport(logger *slog.Logger) {
	logger.Info(banner)
	logger.Info("PIPELINE EXECUTION STATISTICS", "run_id", run.RunID)
	logger.Info("files discovered", "count", run.FilesDiscovered)
	logger.Info("files processed", "count", run.FilesProcessed)
	logger.Info("files failed", "count", run.FilesFailed)
	if run.FilesSkipped > 0 {
		logger.Info("files skipped", "count", run.FilesSkipped)
	}
	logger.Info("total rows extracted", "count", run.RowsExtracted)
	logger.Info("total rows transformed", "count", run.RowsTransformed)
	logger.Info("total rows loaded", "count", run.RowsLoaded)

	if len(run.Errors) > 0 {
		logger.Warn(fmt.Sprintf("encountered %d errors", len(run.Errors)))
		for _, e := range run.Errors {
			logger.Warn("  - "+e.String(), "kind", e.Kind, "code", e.Code)
		}
	}

	status := "COMPLETED"
	switch {
	case run.Cancelled:
		status = "CANCELLED"
	case !run.Success:
		status = "COMPLETED WITH FAILURES"
	}
	logger.Info(fmt.Sprintf("ETL PIPELINE %s in %.1fs", status, run.Duration.Seconds()), "success", run.Success)
	logger.Info(banner)
}

// WriteJSON encodes the structured summary of run to w.
func (run *PipelineRun) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(run)
}

// SaveReport writes run-<id>.json and replaces last_run.json in dir.
func SaveReport(dir string, run *PipelineRun) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	for _, name := range []string{"run-" + run.RunID + ".json", LastRunFile} {
		if err := writeReportFile(filepath.Join(dir, name), run); err != nil {
			return err
		}
	}
	return nil
}

func writeReportFile(path string, run *PipelineRun) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := run.WriteJSON(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode report: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

// LoadReport reads a report written by SaveReport.
func LoadReport(path string) (*PipelineRun, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var run PipelineRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", filepath.Base(path), err)
	}
	return &run, nil
}
