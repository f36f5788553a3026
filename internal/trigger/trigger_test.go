package trigger

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewScheduler_InvalidExpression(t *testing.T) {
	if _, err := NewScheduler("every tuesday", NewGuard(time.Second), func(context.Context) {}); err == nil {
		t.Error("NewScheduler() expected error for invalid expression")
	}
	if _, err := NewScheduler("*/5 * * * *", NewGuard(time.Second), func(context.Context) {}); err != nil {
		t.Errorf("NewScheduler() error = %v", err)
	}
}

func TestScheduler_Runs(t *testing.T) {
	ran := make(chan struct{}, 1)
	s, err := NewScheduler("@every 1s", NewGuard(time.Second), func(context.Context) {
		select {
		case ran <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled run did not happen")
	}
}

func TestScheduler_SkipsWhenBusy(t *testing.T) {
	guard := NewGuard(time.Second)
	var runs atomic.Int32
	s, err := NewScheduler("@hourly", guard, func(context.Context) { runs.Add(1) })
	if err != nil {
		t.Fatal(err)
	}

	if !guard.TryAcquire("cli") {
		t.Fatal("TryAcquire failed")
	}
	s.tick(context.Background())
	if got := runs.Load(); got != 0 {
		t.Errorf("runs while busy = %d, want 0", got)
	}
	guard.Release()

	s.tick(context.Background())
	if got := runs.Load(); got != 1 {
		t.Errorf("runs after release = %d, want 1", got)
	}
}

func startWatcher(t *testing.T, dir string, run RunFunc) {
	t.Helper()
	w, err := NewWatcher(dir, "*.csv", 100*time.Millisecond, NewGuard(time.Second), run)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	t.Cleanup(func() {
		cancel()
		w.Close()
	})
	// Let the event loop start.
	time.Sleep(20 * time.Millisecond)
}

func TestWatcher_DebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	var runs atomic.Int32
	ran := make(chan struct{}, 10)
	startWatcher(t, dir, func(context.Context) {
		runs.Add(1)
		ran <- struct{}{}
	})

	for _, name := range []string{"a.csv", "b.csv", "c.csv"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("id\n1\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("watch trigger did not run")
	}
	time.Sleep(300 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	var runs atomic.Int32
	startWatcher(t, dir, func(context.Context) { runs.Add(1) })

	for _, name := range []string{"notes.txt", "sales.csv.part"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(400 * time.Millisecond)
	if got := runs.Load(); got != 0 {
		t.Errorf("runs = %d, want 0", got)
	}
}

func TestNewWatcher_MissingDir(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "missing"), "*.csv", 0, NewGuard(time.Second), func(context.Context) {})
	if err == nil {
		t.Error("NewWatcher() expected error for missing directory")
	}
}
