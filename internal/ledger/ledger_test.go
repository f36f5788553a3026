package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/JonMunkholm/flatetl/internal/etlerr"
	"github.com/JonMunkholm/flatetl/internal/runner"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "state", "ledger.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func sampleRun(id string, started time.Time) *runner.PipelineRun {
	return &runner.PipelineRun{
		RunID:           id,
		StartedAt:       started,
		FinishedAt:      started.Add(2 * time.Second),
		Duration:        2 * time.Second,
		RawDir:          "data/raw",
		FilesDiscovered: 2,
		FilesProcessed:  1,
		FilesFailed:     1,
		RowsExtracted:   13,
		RowsTransformed: 10,
		Errors: []runner.ErrorSummary{
			{File: "b.csv", Message: "line 3: wrong number of fields", Kind: etlerr.ParseError, Code: "EXT005"},
		},
		Files: []runner.FileResult{
			{
				File:       runner.SourceFile{Name: "a.csv"},
				State:      runner.StateSucceeded,
				Attempts:   []runner.AttemptRecord{{Attempt: 1, Outcome: runner.OutcomeSucceeded}},
				Extraction: &runner.StageResult{RowsOut: 10},
				Transformation: &runner.StageResult{
					RowsIn: 10, RowsOut: 10,
				},
				LoadSkipped: true,
				OutputPath:  "data/processed/a.csv",
			},
			{
				File:  runner.SourceFile{Name: "b.csv"},
				State: runner.StateFailed,
				Attempts: []runner.AttemptRecord{
					{Attempt: 1, Outcome: runner.OutcomeRetryable},
					{Attempt: 2, Outcome: runner.OutcomeRetryable},
					{Attempt: 3, Outcome: runner.OutcomeRetryable},
				},
				Extraction: &runner.StageResult{RowsOut: 3},
				Error:      "line 3: wrong number of fields",
				Kind:       etlerr.ParseError,
			},
		},
	}
}

func TestLedger_RecordAndGet(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)
	started := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	if err := l.RecordRun(ctx, sampleRun("run-1", started)); err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}

	got, err := l.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if !got.StartedAt.Equal(started) || got.Duration != 2*time.Second {
		t.Errorf("StartedAt = %v, Duration = %v", got.StartedAt, got.Duration)
	}
	if got.FilesProcessed != 1 || got.FilesFailed != 1 || got.RowsExtracted != 13 || got.Success {
		t.Errorf("summary = %+v", got)
	}
	if len(got.Errors) != 1 || got.Errors[0].Code != "EXT005" {
		t.Errorf("Errors = %+v", got.Errors)
	}
	if len(got.Files) != 2 {
		t.Fatalf("Files = %d, want 2", len(got.Files))
	}
	b := got.Files[1]
	if b.Name != "b.csv" || b.Attempts != 3 || b.Kind != "parse_error" || b.RowsExtracted != 3 {
		t.Errorf("file b = %+v", b)
	}
	if a := got.Files[0]; !a.LoadSkipped || a.RowsTransformed != 10 {
		t.Errorf("file a = %+v", a)
	}
}

func TestLedger_RecordTwiceReplaces(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)
	run := sampleRun("run-1", time.Now())

	for i := 0; i < 2; i++ {
		if err := l.RecordRun(ctx, run); err != nil {
			t.Fatalf("RecordRun() #%d error = %v", i+1, err)
		}
	}
	got, err := l.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Files) != 2 {
		t.Errorf("Files = %d, want 2", len(got.Files))
	}
}

func TestLedger_ListRuns(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "middle", "new"} {
		if err := l.RecordRun(ctx, sampleRun(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := l.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "new" || runs[1].RunID != "middle" {
		t.Errorf("ListRuns(2) = %v", runs)
	}
	if runs[0].Files != nil {
		t.Error("ListRuns should not load files")
	}

	all, err := l.ListRuns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("ListRuns(0) = %d runs, want 3", len(all))
	}
}

func TestLedger_GetRunNotFound(t *testing.T) {
	l := openTestLedger(t)
	if _, err := l.GetRun(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSummarize(t *testing.T) {
	run := sampleRun("run-1", time.Now())

	brief := Summarize(run, false)
	if brief.RunID != "run-1" || brief.RowsExtracted != 13 || brief.Files != nil {
		t.Errorf("Summarize(false) = %+v", brief)
	}

	full := Summarize(run, true)
	if len(full.Files) != 2 {
		t.Fatalf("Files = %d, want 2", len(full.Files))
	}
	if f := full.Files[1]; f.Name != "b.csv" || f.Attempts != 3 || f.State != "failed" || f.Kind != "parse_error" {
		t.Errorf("file b = %+v", f)
	}
}
