// Package eventlog is an asynchronous log-forwarding client: it accepts
// formatted log records with minimal latency, persists them to a durable
// (or in-memory) buffer, and ships them over TCP/UDP, optionally TLS, to a
// collector that expects newline-delimited Logstash-compatible JSON.
package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/logasync/eventlog/internal/buffer"
	"github.com/logasync/eventlog/internal/telemetry"
	"github.com/logasync/eventlog/internal/transport"
	"github.com/logasync/eventlog/internal/worker"
)

// Handler is the facade: it accepts formatted records, enqueues them to
// its worker, lazily starts that worker on first Emit, and coordinates
// shutdown. One Handler owns exactly one worker for its lifetime — at
// most one in-flight worker per handler identity, satisfied per-instance
// rather than via a process-wide class-level slot (see DESIGN.md).
type Handler struct {
	opts resolvedOptions

	buffer       buffer.Cache
	transport    transport.Transport
	worker       *worker.Worker
	otelShutdown telemetry.Shutdown

	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool
}

// New constructs a Handler targeting host:port. The buffer variant,
// transport, formatter, and every other extension point are configured via
// Option values; see options.go.
func New(host string, port int, opts ...Option) (*Handler, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.formatter == nil {
		o.formatter = &LogstashFormatter{}
	}
	if o.errorReporter == nil {
		o.errorReporter = stderrReporter{}
	}

	h := &Handler{opts: o}

	if o.transport != nil {
		h.transport = o.transport
	} else {
		tcpOpts := []transport.TCPOption{transport.WithTCPLogger(o.logger)}
		if o.tls != nil {
			tcpOpts = append(tcpOpts, transport.WithTLS(*o.tls))
		}
		h.transport = transport.NewTCPTransport(host, port, tcpOpts...)
	}

	cache, err := h.resolveBuffer(o)
	if err != nil {
		return nil, err
	}
	h.buffer = cache

	h.worker = worker.New(h.buffer, h.transport,
		worker.WithLogger(o.logger),
		worker.WithRateLimiter(newLimiter(o)),
	)

	if o.otelEndpoint != "" {
		shutdown, err := telemetry.Init(context.Background(), o.otelEndpoint, "eventlog", "", o.otelInsecure)
		if err != nil {
			return nil, fmt.Errorf("eventlog: init telemetry: %w", err)
		}
		h.otelShutdown = shutdown
		if err := telemetry.PublishStats("eventlog", h); err != nil {
			return nil, fmt.Errorf("eventlog: publish stats: %w", err)
		}
	}

	return h, nil
}

func (h *Handler) resolveBuffer(o resolvedOptions) (buffer.Cache, error) {
	if o.buffer != nil {
		return o.buffer, nil
	}
	if o.databasePath != "" {
		cache, err := buffer.OpenDatabaseCache(context.Background(), o.databasePath,
			buffer.WithDatabaseTTL(o.eventTTL),
			buffer.WithDatabaseMaxSize(o.maxSize, o.overflowFn),
			buffer.WithDatabaseLogger(o.logger),
		)
		if err != nil {
			return nil, fmt.Errorf("eventlog: open database buffer: %w", err)
		}
		return cache, nil
	}
	return buffer.NewMemoryCache(
		buffer.WithMemoryTTL(o.eventTTL),
		buffer.WithMemoryMaxSize(o.maxSize, o.overflowFn),
		buffer.WithMemoryLogger(o.logger),
	), nil
}

// Emit formats r and enqueues it. If the handler is disabled, Emit is a
// no-op. The worker starts lazily on the first call. Any formatting error
// is delegated to the configured ErrorReporter; Emit never panics or
// returns an error to the caller.
func (h *Handler) Emit(r Record) {
	if !h.opts.enabled {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			h.opts.errorReporter.HandleError(r, fmt.Errorf("eventlog: panic while handling record: %v", p))
		}
	}()
	h.ensureStarted()

	payload, err := h.opts.formatter.Format(r)
	if err != nil {
		h.opts.errorReporter.HandleError(r, err)
		return
	}
	if len(h.opts.terminator) > 0 {
		payload = append(payload, h.opts.terminator...)
	}
	h.worker.Enqueue(payload)
}

func (h *Handler) ensureStarted() {
	h.startOnce.Do(func() {
		h.worker.Start(context.Background())
		h.started.Store(true)
	})
}

// Flush requests an unconditional flush on the worker's next idle cycle.
// No-op if the worker hasn't started yet.
func (h *Handler) Flush() {
	if h.started.Load() {
		h.worker.ForceFlush()
	}
}

// Close is an alias for Shutdown with a background context and a generous
// default deadline, matching the host logging framework's typical
// parameterless close().
func (h *Handler) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return h.Shutdown(ctx)
}

// Shutdown is idempotent: it signals the worker to drain, waits up to
// ctx's deadline, then closes the transport and buffer. Errors closing the
// transport are reported to stderr, never returned — mirroring the
// source's "never raise from close" contract.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.closeOnce.Do(func() {
		if h.started.Load() {
			h.worker.Drain(ctx)
		}
		if err := h.transport.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "eventlog: error closing transport: %v\n", err)
		}
		if err := h.buffer.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "eventlog: error closing buffer: %v\n", err)
		}
		if h.otelShutdown != nil {
			if err := h.otelShutdown(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "eventlog: error shutting down telemetry: %v\n", err)
			}
		}
	})
	return nil
}

// GetStats aggregates stats snapshots from the worker, transport, and
// buffer, matching the original's get_stats().
func (h *Handler) GetStats() Stats {
	if !h.opts.enabled {
		return nil
	}
	var out Stats
	out = append(out, h.worker.GetStats()...)
	out = append(out, h.transport.GetStats()...)
	out = append(out, h.buffer.GetStats()...)
	return out
}

type stderrReporter struct{}

func (stderrReporter) HandleError(r Record, err error) {
	fmt.Fprintf(os.Stderr, "eventlog: error handling record %q: %v\n", r.Message, err)
}
