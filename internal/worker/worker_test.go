package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logasync/eventlog/internal/buffer"
	"github.com/logasync/eventlog/internal/logstats"
)

// fakeTransport is an in-memory Transport stub used to drive the worker's
// flush logic without a real socket.
type fakeTransport struct {
	mu        sync.Mutex
	received  [][]byte
	failNext  bool
	failAlway bool
	sendCount int
}

func (f *fakeTransport) Send(_ context.Context, events [][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCount++
	if f.failAlway || f.failNext {
		f.failNext = false
		return errors.New("simulated transport failure")
	}
	f.received = append(f.received, events...)
	return nil
}

func (f *fakeTransport) GetStats() []logstats.Snapshot { return nil }
func (f *fakeTransport) Close() error                  { return nil }

func (f *fakeTransport) snapshot() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.received))
	copy(out, f.received)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// TestWorkerS5HealthyTransportDeliversAllInOrder: with a healthy transport,
// a single producer emits N messages and every one reaches the transport,
// in order, by the time Drain returns.
func TestWorkerS5HealthyTransportDeliversAllInOrder(t *testing.T) {
	// The durable buffer returns events in id order; the volatile one does not.
	cache, err := buffer.OpenDatabaseCache(context.Background(), filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer cache.Close()
	tr := &fakeTransport{}
	w := New(cache, tr, WithFlushThresholds(50*time.Millisecond, 1000))

	ctx := context.Background()
	w.Start(ctx)

	const n = 100
	for i := 0; i < n; i++ {
		w.Enqueue([]byte{byte(i)})
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.Drain(drainCtx)

	got := tr.snapshot()
	require.Len(t, got, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, byte(i), got[i][0], "message %d out of order", i)
	}
	buffered, ok := logstats.Lookup(cache.GetStats(), "buffered_events")
	require.True(t, ok)
	assert.EqualValues(t, 0, buffered.Value, "buffered_events should be drained to zero")
}

// TestWorkerS4FailingTransportKeepsEventsBuffered: when the transport
// always fails, events stay buffered instead of being dropped.
func TestWorkerS4FailingTransportKeepsEventsBuffered(t *testing.T) {
	cache := buffer.NewMemoryCache()
	tr := &fakeTransport{failAlway: true}
	w := New(cache, tr, WithFlushThresholds(20*time.Millisecond, 1000))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	w.Enqueue([]byte("m1"))
	w.Enqueue([]byte("m2"))

	// The first flush check can fall before the events arrive, and the next
	// one follows a QueueCheckInterval (2s) sleep.
	waitFor(t, 5*time.Second, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.sendCount > 0
	})

	stats := cache.GetStats()
	buffered, ok := logstats.Lookup(stats, "buffered_events")
	require.True(t, ok)
	assert.EqualValues(t, 2, buffered.Value, "both events must remain buffered after a failed send")

	tr.mu.Lock()
	sendAttempts := tr.sendCount
	tr.mu.Unlock()
	assert.GreaterOrEqual(t, sendAttempts, 1)
}

func TestWorkerForceFlushBypassesInterval(t *testing.T) {
	cache := buffer.NewMemoryCache()
	tr := &fakeTransport{}
	w := New(cache, tr, WithFlushThresholds(time.Hour, 1000))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	w.Enqueue([]byte("hello"))
	// Give the worker a moment to drain the ingress queue into the buffer;
	// it may first sleep one QueueCheckInterval (2s).
	waitFor(t, 5*time.Second, func() bool {
		stats := cache.GetStats()
		buffered, _ := logstats.Lookup(stats, "buffered_events")
		return buffered.Value == 1
	})

	w.ForceFlush()

	// The force flag is read on the next idle cycle, after the current sleep.
	waitFor(t, 5*time.Second, func() bool {
		return len(tr.snapshot()) == 1
	})
}

func TestWorkerStartTwiceIsNoop(t *testing.T) {
	cache := buffer.NewMemoryCache()
	tr := &fakeTransport{}
	w := New(cache, tr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	w.Start(ctx) // should log a warning, not panic or start a second loop

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Second)
	defer drainCancel()
	w.Drain(drainCtx)
}

func TestWorkerGetStatsReportsQueueSize(t *testing.T) {
	cache := buffer.NewMemoryCache()
	tr := &fakeTransport{}
	w := New(cache, tr)

	w.Enqueue([]byte("a"))
	w.Enqueue([]byte("b"))

	stats := w.GetStats()
	qsize, ok := logstats.Lookup(stats, "queue_size")
	require.True(t, ok)
	assert.EqualValues(t, 2, qsize.Value)
}
