package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer flushes buffered log records on shutdown.
type Closer interface {
	Close()
}

// nopCloser is the Closer for synchronous logging.
type nopCloser struct{}

func (nopCloser) Close() {}

// AsyncHandler decouples log emission from encoding: records are queued to
// a small worker pool and the caller never blocks. Records arriving while
// the queue is full are counted and dropped.
type AsyncHandler struct {
	inner slog.Handler
	core  *asyncCore
}

// asyncCore is shared across WithAttrs/WithGroup derivatives so they all
// feed one queue and one drop counter.
type asyncCore struct {
	queue   chan job
	wg      sync.WaitGroup
	dropped atomic.Int64
}

// job carries the record together with the handler that enqueued it, so
// derived handlers keep their attrs and groups.
type job struct {
	handler slog.Handler
	rec     slog.Record
}

// NewAsyncHandler starts workers draining a queue of the given capacity.
func NewAsyncHandler(inner slog.Handler, capacity, workers int) *AsyncHandler {
	core := &asyncCore{queue: make(chan job, capacity)}
	for i := 0; i < workers; i++ {
		core.wg.Add(1)
		go func() {
			defer core.wg.Done()
			for j := range core.queue {
				_ = j.handler.Handle(context.Background(), j.rec)
			}
		}()
	}
	return &AsyncHandler{inner: inner, core: core}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record, dropping it if the queue is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.core.queue <- job{handler: h.inner, rec: rec}:
	default:
		h.core.dropped.Add(1)
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), core: h.core}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), core: h.core}
}

// DroppedCount reports how many records were discarded on a full queue.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.core.dropped.Load()
}

// Close stops accepting records and waits until the queue is drained.
func (h *AsyncHandler) Close() {
	close(h.core.queue)
	h.core.wg.Wait()
}
