// Package worker implements the single background task that drains the
// ingress queue into the buffer and flushes the buffer to the transport
// on interval/count/force triggers. The Start/Drain/drainCh shutdown
// protocol is adapted from internal/search/outbox.go's OutboxWorker; the
// drain/flush algorithm itself follows log_async/worker.py from the
// original Python implementation.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/logasync/eventlog/internal/buffer"
	"github.com/logasync/eventlog/internal/constants"
	"github.com/logasync/eventlog/internal/logstats"
	"github.com/logasync/eventlog/internal/queue"
	"github.com/logasync/eventlog/internal/ratelimiter"
	"github.com/logasync/eventlog/internal/transport"
)

// Worker is the single consumer of the ingress queue. One Worker owns
// exactly one Cache and one Transport for its lifetime: the transport is
// owned exclusively by the worker while the worker is alive.
type Worker struct {
	cache     buffer.Cache
	transport transport.Transport
	queue     *queue.Queue
	limiter   *ratelimiter.Limiter
	logger    *slog.Logger

	flushInterval time.Duration
	flushCount    int

	started    atomic.Bool
	shutdown   atomic.Bool
	flushFlag  atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
	drainOnce  sync.Once
	drainCh    chan context.Context

	lastFlush       time.Time
	nonFlushedCount int

	stats     *logstats.Bundle
	queueSize *logstats.Value
}

// Option configures a Worker at construction.
type Option func(*Worker)

// WithRateLimiter sets the fixed-window limiter guarding the worker's own
// diagnostic logging. A nil limiter (the default) disables rate limiting.
func WithRateLimiter(l *ratelimiter.Limiter) Option {
	return func(w *Worker) { w.limiter = l }
}

// WithLogger overrides the logger used for the worker's diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithFlushThresholds overrides the default flush interval/count triggers.
func WithFlushThresholds(interval time.Duration, count int) Option {
	return func(w *Worker) {
		w.flushInterval = interval
		w.flushCount = count
	}
}

// New creates a Worker over the given buffer and transport. It does not
// start consuming until Start is called.
func New(cache buffer.Cache, tr transport.Transport, opts ...Option) *Worker {
	w := &Worker{
		cache:         cache,
		transport:     tr,
		queue:         queue.New(),
		logger:        slog.Default(),
		flushInterval: constants.QueuedEventsFlushInterval,
		flushCount:    constants.QueuedEventsFlushCount,
		done:          make(chan struct{}),
		drainCh:       make(chan context.Context, 1),
		stats:         logstats.NewBundle(constants.WorkerStatsPrefix),
	}
	w.queueSize = logstats.NewValue(constants.WorkerStatsPrefix + "queue_size")
	w.stats.Extend(w.queueSize)
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Enqueue offers payload to the ingress queue. Safe to call from any
// goroutine; never blocks meaningfully.
func (w *Worker) Enqueue(payload []byte) {
	w.stats.Event(1)
	w.queue.Push(payload)
}

// ForceFlush requests an unconditional flush on the worker's next idle
// cycle, matching the original's flush().
func (w *Worker) ForceFlush() {
	w.flushFlag.Store(true)
}

// Start begins the background drain/flush loop. Safe to call only once;
// subsequent calls are no-ops and log a warning.
func (w *Worker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		w.logger.Warn("worker: Start called more than once, ignoring")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel
	go w.run(loopCtx)
}

// Drain signals the worker to stop, lets it perform one final forced flush
// under the given context's deadline, and blocks until it exits or ctx
// expires. Safe to call multiple times; only the first call triggers the
// drain.
func (w *Worker) Drain(ctx context.Context) {
	w.drainOnce.Do(func() {
		w.shutdown.Store(true)
		sendCtx, sendCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		select {
		case w.drainCh <- ctx:
		case <-sendCtx.Done():
			w.logger.Warn("worker: drain context channel busy, final flush will use fallback timeout")
		}
		sendCancel()
		if w.cancelLoop != nil {
			w.cancelLoop()
		}
	})
	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("worker: drain timed out")
	}
	if qsize := w.queue.Len(); qsize > 0 {
		w.logger.Warn("worker: non-empty queue after shutdown, indicates a previous error", "queue_size", qsize)
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.once.Do(func() { close(w.done) })
	w.resetFlushCounters()

	for {
		payload, ok := w.queue.TryPop()
		if ok {
			w.processEvent(ctx, payload)
			continue
		}

		if ctx.Err() != nil {
			w.finalFlush()
			return
		}

		force := w.flushFlag.CompareAndSwap(true, false)
		w.flushQueuedEvents(ctx, force)
		if w.sleepInterruptible(ctx, constants.QueueCheckInterval) {
			continue // drain the queue before the final flush
		}
		w.expireEvents(ctx)
	}
}

func (w *Worker) finalFlush() {
	var drainCtx context.Context
	select {
	case drainCtx = <-w.drainCh:
	default:
	}
	if drainCtx == nil {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	w.flushQueuedEvents(drainCtx, true)
}

// sleepInterruptible waits for dur or until ctx is done, returning true if
// it was interrupted by cancellation.
func (w *Worker) sleepInterruptible(ctx context.Context, dur time.Duration) bool {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

func (w *Worker) processEvent(ctx context.Context, payload []byte) {
	// Events still queued at shutdown are written after the loop context is
	// cancelled, so the write itself must not observe that cancellation.
	err := w.cache.AddEvent(context.WithoutCancel(ctx), payload)
	if err == nil {
		w.nonFlushedCount++
		return
	}

	if errors.Is(err, buffer.ErrBufferLocked) {
		w.safeLog(slog.LevelDebug, "worker: buffer is locked, will try again later", err, "queue_length", w.queue.Len())
	} else {
		w.safeLog(slog.LevelError, "worker: log processing error", err, "queue_length", w.queue.Len())
	}
	w.queue.PushFront(payload)
	w.sleepInterruptible(ctx, constants.QueueCheckInterval)
}

func (w *Worker) flushQueuedEvents(ctx context.Context, force bool) {
	if !force && !w.intervalReached() && !w.countReached() {
		return
	}
	w.flushFlag.Store(false)

	events, err := w.cache.GetQueuedEvents(ctx)
	if err != nil {
		if errors.Is(err, buffer.ErrBufferLocked) {
			w.safeLog(slog.LevelDebug, "worker: buffer is locked, will try again later", err, "queue_length", w.queue.Len())
		} else {
			w.safeLog(slog.LevelError, "worker: error retrieving queued events", err)
		}
		return
	}
	if len(events) == 0 {
		return
	}

	payloads := make([][]byte, len(events))
	for i, e := range events {
		payloads[i] = e.Payload
	}

	if err := w.transport.Send(ctx, payloads); err != nil {
		w.safeLog(slog.LevelError, "worker: an error occurred while sending events", err)
		if rqErr := w.cache.RequeueQueuedEvents(ctx, events); rqErr != nil {
			w.safeLog(slog.LevelError, "worker: error requeuing events after send failure", rqErr)
		}
		return
	}

	w.stats.Send(int64(len(events)))

	if err := w.cache.DeleteQueuedEvents(ctx); err != nil && !errors.Is(err, buffer.ErrBufferLocked) {
		w.safeLog(slog.LevelError, "worker: error deleting sent events", err)
	}
	w.resetFlushCounters()
}

func (w *Worker) expireEvents(ctx context.Context) {
	if err := w.cache.ExpireEvents(ctx); err != nil && !errors.Is(err, buffer.ErrBufferLocked) {
		w.safeLog(slog.LevelError, "worker: error expiring events", err)
	}
}

func (w *Worker) resetFlushCounters() {
	w.lastFlush = time.Now()
	w.nonFlushedCount = 0
}

func (w *Worker) intervalReached() bool {
	return time.Since(w.lastFlush) > w.flushInterval
}

func (w *Worker) countReached() bool {
	return w.nonFlushedCount > w.flushCount
}

// safeLog applies the rate-limited self-logging policy: once shutdown has
// been requested, diagnostics bypass the host logger entirely (it may be
// mid-teardown) and go straight to stderr.
func (w *Worker) safeLog(level slog.Level, msg string, err error, args ...any) {
	if w.shutdown.Load() {
		fmt.Fprintf(os.Stderr, "%s: %s: %v\n", level, msg, err)
		return
	}

	remaining := 2
	if w.limiter != nil {
		remaining = w.limiter.Hit(rateLimitKey(err))
	}
	if remaining <= 0 {
		return
	}
	if remaining == 1 {
		msg += " (rate limiting effective, further equal messages will be limited)"
	}

	args = append(args, "error", err)
	w.logger.Log(context.Background(), level, msg, args...)
}

// rateLimitKey derives a (module, class[, errno]) key from a Go error's
// dynamic type, unwrapping to find a syscall-style Errno if one is present
// in the chain.
func rateLimitKey(err error) string {
	key := reflect.TypeOf(err).String()
	var errno syscall.Errno
	if errors.As(err, &errno) {
		key = fmt.Sprintf("%s.%d", key, errno)
	}
	return key
}

// GetStats returns a snapshot including the live ingress queue depth.
func (w *Worker) GetStats() []logstats.Snapshot {
	w.queueSize.Set(int64(w.queue.Len()))
	return w.stats.GetStats()
}
