package buffer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/logasync/eventlog/internal/constants"
	"github.com/logasync/eventlog/internal/logstats"
)

// memEntry tracks one event's two-phase state in the in-memory map.
// Grounded directly on log_async/memory_cache.py's per-event dict
// (event_text, pending_delete, entry_date, id).
type memEntry struct {
	payload       []byte
	pendingDelete bool
	entryDate     time.Time
}

// MemoryCache is the volatile buffer variant: an in-memory map keyed by a
// fresh 128-bit random ID per event. Nothing persists across restarts. The
// source iterates a live mapping while mutating entries during
// GetQueuedEvents and relies on single-threaded (worker-only) access to
// make that safe; a mutex guards the map here anyway, so the cache stays
// consistent if more than one goroutine reaches it.
type MemoryCache struct {
	eventTTL time.Duration // zero means "no TTL"
	maxSize  int           // zero means "unbounded"
	overflow OverflowFunc
	logger   *slog.Logger

	mu     sync.Mutex
	events map[string]*memEntry

	stats *logstats.Bundle
}

// MemoryCacheOption configures a MemoryCache at construction.
type MemoryCacheOption func(*MemoryCache)

// WithMemoryTTL sets the event expiry duration. Zero disables expiry.
func WithMemoryTTL(ttl time.Duration) MemoryCacheOption {
	return func(m *MemoryCache) { m.eventTTL = ttl }
}

// WithMemoryMaxSize sets the overflow threshold. Zero disables it.
func WithMemoryMaxSize(n int, overflow OverflowFunc) MemoryCacheOption {
	return func(m *MemoryCache) {
		m.maxSize = n
		m.overflow = overflow
	}
}

// WithMemoryLogger sets the logger used for warnings about unknown event
// IDs on requeue/delete: unknown IDs are tolerated and logged at warn
// rather than treated as an error.
func WithMemoryLogger(logger *slog.Logger) MemoryCacheOption {
	return func(m *MemoryCache) { m.logger = logger }
}

// NewMemoryCache creates an empty volatile buffer.
func NewMemoryCache(opts ...MemoryCacheOption) *MemoryCache {
	m := &MemoryCache{
		events: make(map[string]*memEntry),
		logger: slog.Default(),
		stats:  logstats.NewBundle(constants.MemoryStatsPrefix),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryCache) AddEvent(_ context.Context, payload []byte) error {
	m.stats.Event(1)

	m.mu.Lock()
	if m.maxSize > 0 && len(m.events) >= m.maxSize {
		m.mu.Unlock()
		m.stats.Discard(1)
		safeOverflow(m.overflow, payload)
		return nil
	}

	id := uuid.New().String()
	m.events[id] = &memEntry{
		payload:   payload,
		entryDate: time.Now(),
	}
	m.mu.Unlock()

	m.stats.Buffer(1)
	return nil
}

func (m *MemoryCache) GetQueuedEvents(_ context.Context) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := make([]Event, 0, len(m.events))
	for id, e := range m.events {
		if e.pendingDelete {
			continue
		}
		e.pendingDelete = true
		events = append(events, Event{ID: id, Payload: e.payload, EntryDate: e.entryDate})
	}
	m.stats.Unbuffer(int64(len(events)))
	return events, nil
}

func (m *MemoryCache) RequeueQueuedEvents(_ context.Context, events []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, ev := range events {
		entry, ok := m.events[ev.ID]
		if !ok {
			m.logger.Warn("buffer: could not requeue event, not in cache", "event_id", ev.ID)
			continue
		}
		entry.pendingDelete = false
		n++
	}
	m.stats.Buffer(n)
	return nil
}

func (m *MemoryCache) DeleteQueuedEvents(_ context.Context) error {
	m.mu.Lock()
	var toDelete []string
	for id, e := range m.events {
		if e.pendingDelete {
			toDelete = append(toDelete, id)
		}
	}
	m.mu.Unlock()
	m.deleteIDs(toDelete)
	return nil
}

func (m *MemoryCache) ExpireEvents(_ context.Context) error {
	if m.eventTTL <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-m.eventTTL)

	m.mu.Lock()
	var toDelete []string
	for id, e := range m.events {
		if e.entryDate.Before(cutoff) {
			toDelete = append(toDelete, id)
		}
	}
	m.mu.Unlock()
	if n := m.deleteIDs(toDelete); n > 0 {
		m.stats.Discard(n)
	}
	return nil
}

// deleteIDs removes the given events and returns how many were present.
func (m *MemoryCache) deleteIDs(ids []string) int64 {
	if len(ids) == 0 {
		return 0
	}
	m.mu.Lock()
	var n int64
	for _, id := range ids {
		if _, ok := m.events[id]; ok {
			delete(m.events, id)
			n++
		} else {
			m.logger.Warn("buffer: could not delete event, not in cache", "event_id", id)
		}
	}
	m.mu.Unlock()
	return n
}

func (m *MemoryCache) GetStats() []logstats.Snapshot { return m.stats.GetStats() }

// Close is a no-op for the volatile buffer; nothing to release.
func (m *MemoryCache) Close() error { return nil }

var _ Cache = (*MemoryCache)(nil)
