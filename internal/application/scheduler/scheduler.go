// Package scheduler drives the enforcement engine on a fixed cadence. It
// owns its timer and state flag; start/stop are methods, not free functions
// touching ambient globals.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/disciplina/internal/domain"
)

const (
	defaultInterval = 30 * time.Second

	// minCycleTimeout floors the per-cycle budget. Enforcement time depends
	// on how many closes the broker has to process (rate-limited, with
	// retries), not on how often we poll, so a short interval must not cut
	// a long cycle short.
	minCycleTimeout = 5 * time.Minute
)

// MonitorService is the slice of the engine the scheduler needs. Decouples
// it from *engine.Engine so tests can drop in a fake.
type MonitorService interface {
	Monitor(ctx context.Context, userID, accountID string) (*domain.CycleResult, error)
	Sync(ctx context.Context, userID, accountID string) (int, error)
}

// Scheduler runs reconcile-then-enforce cycles for one account while
// monitoring is enabled. States: stopped, running. Cycles never overlap for
// the account: a tick that fires mid-cycle is skipped, not queued.
type Scheduler struct {
	engine   MonitorService
	interval time.Duration

	mu      sync.Mutex // guards running/cancel/done
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	cycleMu sync.Mutex // one in-flight cycle per account
}

// New creates a stopped scheduler. interval <= 0 means the 30s default.
func New(engine MonitorService, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Scheduler{engine: engine, interval: interval}
}

// Start transitions stopped → running: one immediate cycle, then a fixed
// ticker. No-op when already running.
func (s *Scheduler) Start(userID, accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	slog.Info("monitoring started", "user", userID, "account", accountID,
		"interval", s.interval)
	go s.loop(loopCtx, userID, accountID)
}

// Stop transitions running → stopped. Disarms the timer and waits for the
// loop goroutine; an in-flight cycle is allowed to finish — stopping only
// prevents future ticks, it never truncates ledger writes. No-op when
// already stopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	slog.Info("monitoring stopped")
}

// Running reports the scheduler state.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SyncNow runs a one-shot reconcile, independent of scheduler state.
func (s *Scheduler) SyncNow(ctx context.Context, userID, accountID string) (int, error) {
	return s.engine.Sync(ctx, userID, accountID)
}

func (s *Scheduler) loop(loopCtx context.Context, userID, accountID string) {
	defer close(s.done)

	s.tryCycle(userID, accountID)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.C:
			s.tryCycle(userID, accountID)
		}
	}
}

// tryCycle runs one monitor pass unless one is already in flight, in which
// case the tick is dropped — two concurrent cycles could both try to close
// the same position.
func (s *Scheduler) tryCycle(userID, accountID string) {
	if !s.cycleMu.TryLock() {
		slog.Debug("cycle still in flight, skipping tick", "user", userID)
		return
	}
	defer s.cycleMu.Unlock()

	// Deliberately not the loop context: Stop() must not abort the cycle.
	timeout := s.interval
	if timeout < minCycleTimeout {
		timeout = minCycleTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if _, err := s.engine.Monitor(ctx, userID, accountID); err != nil {
		slog.Error("monitor cycle failed", "user", userID, "err", err)
	}
}
