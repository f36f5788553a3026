package trigger

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGuard_AcquireRelease(t *testing.T) {
	guard := NewGuard(time.Second)

	if guard.Running() {
		t.Error("initial Running = true, want false")
	}

	ctx := context.Background()
	if err := guard.Acquire(ctx, "cli"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	status := guard.Status()
	if !status.Running || status.Trigger != "cli" || status.Since.IsZero() {
		t.Errorf("Status = %+v, want running cli run", status)
	}

	guard.Release()

	if guard.Running() {
		t.Error("after Release, Running = true, want false")
	}
	if status := guard.Status(); status.Trigger != "" {
		t.Errorf("after Release, Trigger = %q, want empty", status.Trigger)
	}
}

func TestGuard_BlocksWhenBusy(t *testing.T) {
	guard := NewGuard(100 * time.Millisecond)

	ctx := context.Background()
	if err := guard.Acquire(ctx, "schedule"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// Try to acquire again - should timeout
	start := time.Now()
	err := guard.Acquire(ctx, "api")
	elapsed := time.Since(start)

	if err != ErrRunInProgress {
		t.Errorf("expected ErrRunInProgress, got %v", err)
	}
	if elapsed < 90*time.Millisecond {
		t.Errorf("timeout too fast: %v", elapsed)
	}

	guard.Release()
}

func TestGuard_TryAcquire(t *testing.T) {
	guard := NewGuard(time.Second)

	if !guard.TryAcquire("watch") {
		t.Error("first TryAcquire should succeed")
	}

	start := time.Now()
	if guard.TryAcquire("watch") {
		t.Error("second TryAcquire should fail")
		guard.Release()
	}
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Errorf("TryAcquire blocked for %v", elapsed)
	}

	guard.Release()

	if !guard.TryAcquire("watch") {
		t.Error("TryAcquire after Release should succeed")
	}
	guard.Release()
}

func TestGuard_ContextCancellation(t *testing.T) {
	guard := NewGuard(5 * time.Second)

	if err := guard.Acquire(context.Background(), "cli"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- guard.Acquire(cancelCtx, "api")
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Acquire did not return after context cancellation")
	}

	guard.Release()
}

func TestGuard_Do(t *testing.T) {
	guard := NewGuard(time.Second)
	ctx := context.Background()

	calls := 0
	err := guard.Do(ctx, "api", func(ctx context.Context) {
		calls++
		if !guard.Running() {
			t.Error("guard not held during Do")
		}
		if err := guard.Do(ctx, "api", func(context.Context) { calls++ }); !errors.Is(err, ErrRunInProgress) {
			t.Errorf("nested Do error = %v, want ErrRunInProgress", err)
		}
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if guard.Running() {
		t.Error("guard still held after Do")
	}
}

func TestGuard_WaitForDrain(t *testing.T) {
	guard := NewGuard(time.Second)
	guard.Acquire(context.Background(), "cli")

	drainDone := make(chan error, 1)
	go func() {
		drainDone <- guard.WaitForDrain(context.Background())
	}()

	select {
	case <-drainDone:
		t.Error("WaitForDrain returned too early")
	case <-time.After(50 * time.Millisecond):
		// Expected - still waiting
	}

	guard.Release()

	select {
	case err := <-drainDone:
		if err != nil {
			t.Errorf("WaitForDrain returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Error("WaitForDrain did not complete after release")
	}
}

func TestGuard_WaitForDrain_ContextCancelled(t *testing.T) {
	guard := NewGuard(time.Second)
	guard.Acquire(context.Background(), "cli")

	cancelCtx, cancel := context.WithCancel(context.Background())
	drainDone := make(chan error, 1)
	go func() {
		drainDone <- guard.WaitForDrain(cancelCtx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-drainDone:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Error("WaitForDrain did not return after context cancellation")
	}

	guard.Release()
}

func TestGuard_DefaultWait(t *testing.T) {
	if got := NewGuard(0).maxWait; got != DefaultMaxWaitTime {
		t.Errorf("maxWait = %v, want %v", got, DefaultMaxWaitTime)
	}
}
