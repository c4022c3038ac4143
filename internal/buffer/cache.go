// Package buffer implements a two-phase durable/volatile event store. Both
// variants satisfy Cache and share one state machine — buffered →
// in-flight → absent — policed entirely by this package's API rather than
// by a bare boolean the caller could misuse.
package buffer

import (
	"context"
	"errors"
	"time"

	"github.com/logasync/eventlog/internal/logstats"
)

// ErrBufferLocked is returned when the durable buffer's underlying store is
// momentarily busy. It is never returned by the volatile buffer, which has
// no contention to report.
var ErrBufferLocked = errors.New("buffer: locked")

// Event is a single stored log event plus the metadata the two-phase
// protocol needs. Payload is immutable once added.
type Event struct {
	ID        string
	Payload   []byte
	EntryDate time.Time
}

// OverflowFunc is invoked (with the event that was discarded) when AddEvent
// rejects a write because MaxSize was reached. Its own errors/panics are
// swallowed — the source project is explicit that a misbehaving overflow
// hook must never take down the logging pipeline.
type OverflowFunc func(payload []byte)

// Cache is the buffer contract shared by the durable and volatile variants.
// All methods are safe to call only from the worker goroutine once a
// Handler has started: the buffer is accessed only by the worker after
// first emit.
type Cache interface {
	// AddEvent inserts payload in the buffered state. If MaxSize is set and
	// the stored count is already at or above it, the event is discarded
	// (DatabaseCache counts buffered rows only; MemoryCache counts every
	// stored event, in-flight ones included):
	// OverflowFunc (if any) is invoked and the discard is counted, but no
	// error is returned — overflow is not a failure the worker should retry.
	AddEvent(ctx context.Context, payload []byte) error

	// GetQueuedEvents atomically reads every buffered event, flips each to
	// in-flight, and returns them. A second call with no intervening
	// RequeueQueuedEvents returns an empty slice.
	GetQueuedEvents(ctx context.Context) ([]Event, error)

	// RequeueQueuedEvents returns each given in-flight event to buffered.
	// IDs that no longer exist are tolerated and logged, not erred.
	RequeueQueuedEvents(ctx context.Context, events []Event) error

	// DeleteQueuedEvents removes every in-flight event. It never touches
	// buffered events.
	DeleteQueuedEvents(ctx context.Context) error

	// ExpireEvents removes every event (buffered or in-flight) older than
	// the configured TTL. No-op if no TTL was configured.
	ExpireEvents(ctx context.Context) error

	// GetStats returns a snapshot of this buffer's counters/gauges.
	GetStats() []logstats.Snapshot

	// Close releases any held resources (open file handles, etc).
	Close() error
}

func safeOverflow(fn OverflowFunc, payload []byte) {
	if fn == nil {
		return
	}
	defer func() { _ = recover() }() // overflow_fn errors are swallowed
	fn(payload)
}
