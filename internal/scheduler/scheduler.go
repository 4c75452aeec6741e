// Package scheduler runs periodic jobs on a ticker with an overlap guard:
// when a run outlives its interval the next tick is skipped, never queued.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Job is one periodic unit of work. A returned error is logged, not fatal.
type Job func(ctx context.Context) error

// Scheduler owns a set of named repeating jobs.
type Scheduler struct {
	mu   sync.Mutex
	wg   sync.WaitGroup
	stop []context.CancelFunc
}

func New() *Scheduler {
	return &Scheduler{}
}

// Repeat runs job every interval until ctx is cancelled or Stop is called.
// Ticks that arrive while a previous run is still executing are dropped.
func (s *Scheduler) Repeat(ctx context.Context, name string, interval time.Duration, job Job) {
	if interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.stop = append(s.stop, cancel)
	s.mu.Unlock()

	var running atomic.Bool
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !running.CompareAndSwap(false, true) {
					slog.Debug("scheduler: run still in progress, skipping tick", "job", name)
					continue
				}
				if err := job(ctx); err != nil {
					slog.Warn("scheduler: job failed", "job", name, "error", err)
				}
				running.Store(false)
			}
		}
	}()
}

// Stop cancels every job and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for _, cancel := range s.stop {
		cancel()
	}
	s.stop = nil
	s.mu.Unlock()
	s.wg.Wait()
}
