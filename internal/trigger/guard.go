package trigger

// guard.go keeps pipeline runs from overlapping.
//
// Runs can start from the CLI, the cron schedule, the directory watcher or
// the HTTP API. The guard is a one-slot semaphore shared by all of them:
// a trigger that finds the slot taken either waits up to maxWait (Acquire)
// or gives up at once (TryAcquire) with ErrRunInProgress.
//
// WaitForDrain blocks until the active run completes, for graceful
// shutdown.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRunInProgress is returned when a run is already active and the wait
// expires. Triggers should skip or retry later.
var ErrRunInProgress = errors.New("run already in progress")

// DefaultMaxWaitTime is how long Acquire waits for the slot.
const DefaultMaxWaitTime = 30 * time.Second

// Guard serializes pipeline runs using a semaphore.
type Guard struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu      sync.RWMutex
	active  int
	since   time.Time
	trigger string
}

// NewGuard creates a guard. Acquire waits at most maxWait for the slot.
func NewGuard(maxWait time.Duration) *Guard {
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &Guard{
		semaphore: make(chan struct{}, 1),
		maxWait:   maxWait,
	}
}

// Acquire waits for the run slot.
// Returns nil on success, ErrRunInProgress if the wait expires.
// The caller MUST call Release() when the run completes (use defer).
func (g *Guard) Acquire(ctx context.Context, trigger string) error {
	waitCtx, cancel := context.WithTimeout(ctx, g.maxWait)
	defer cancel()

	select {
	case g.semaphore <- struct{}{}:
		g.markActive(trigger)
		return nil

	case <-waitCtx.Done():
		// Check if original context was cancelled vs timeout
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrRunInProgress
	}
}

// TryAcquire takes the run slot without blocking.
// Returns true if the slot was acquired, false otherwise.
func (g *Guard) TryAcquire(trigger string) bool {
	select {
	case g.semaphore <- struct{}{}:
		g.markActive(trigger)
		return true
	default:
		return false
	}
}

func (g *Guard) markActive(trigger string) {
	g.mu.Lock()
	g.active++
	g.since = time.Now()
	g.trigger = trigger
	g.mu.Unlock()
}

// Release frees the slot.
// Must be called exactly once for each successful Acquire/TryAcquire.
func (g *Guard) Release() {
	g.mu.Lock()
	g.active--
	g.trigger = ""
	g.since = time.Time{}
	g.mu.Unlock()

	<-g.semaphore
}

// Running reports whether a run holds the slot.
func (g *Guard) Running() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active > 0
}

// Do runs fn while holding the slot. It returns ErrRunInProgress without
// calling fn when another run is active.
func (g *Guard) Do(ctx context.Context, trigger string, fn func(context.Context)) error {
	if !g.TryAcquire(trigger) {
		return ErrRunInProgress
	}
	defer g.Release()
	fn(ctx)
	return nil
}

// WaitForDrain blocks until the active run completes or ctx is cancelled.
func (g *Guard) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if !g.Running() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// GuardStatus is a snapshot of the guard.
type GuardStatus struct {
	Running bool      `json:"running"`
	Trigger string    `json:"trigger,omitempty"`
	Since   time.Time `json:"since,omitempty"`
}

// Status returns the current guard state for monitoring.
func (g *Guard) Status() GuardStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return GuardStatus{
		Running: g.active > 0,
		Trigger: g.trigger,
		Since:   g.since,
	}
}
