package eventlog

import (
	"log/slog"
	"time"

	"github.com/logasync/eventlog/internal/buffer"
	"github.com/logasync/eventlog/internal/ratelimiter"
	"github.com/logasync/eventlog/internal/transport"
)

// Option configures a Handler. Mirrors the functional-options shape used
// throughout this module's teacher lineage.
type Option func(*resolvedOptions)

// resolvedOptions holds every extension point after defaults are applied.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger *slog.Logger

	databasePath string
	buffer       buffer.Cache
	eventTTL     time.Duration
	maxSize      int
	overflowFn   buffer.OverflowFunc

	transport transport.Transport
	tls       *transport.TLSConfig

	enabled       bool
	formatter     Formatter
	errorReporter ErrorReporter
	terminator    []byte

	rateLimit       int
	rateLimitWindow time.Duration

	otelEndpoint string
	otelInsecure bool
}

func defaultOptions() resolvedOptions {
	return resolvedOptions{
		enabled:         true,
		terminator:      []byte("\n"),
		rateLimit:       60,
		rateLimitWindow: time.Minute,
	}
}

// WithLogger sets the structured logger used for the module's own
// diagnostics. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithDatabasePath selects the durable (SQLite-backed) buffer variant at
// the given file path. Mutually exclusive with WithBuffer; an explicit
// buffer instance always overrides path-based selection.
func WithDatabasePath(path string) Option {
	return func(o *resolvedOptions) { o.databasePath = path }
}

// WithBuffer supplies an explicit Cache instance, overriding path-based
// buffer selection entirely.
func WithBuffer(c buffer.Cache) Option {
	return func(o *resolvedOptions) { o.buffer = c }
}

// WithEventTTL sets how long buffered events may live before expiry. Zero
// (the default) disables expiry.
func WithEventTTL(ttl time.Duration) Option {
	return func(o *resolvedOptions) { o.eventTTL = ttl }
}

// WithMaxSize sets the buffer's overflow threshold and the hook invoked
// when a new event would exceed it.
func WithMaxSize(n int, overflowFn buffer.OverflowFunc) Option {
	return func(o *resolvedOptions) {
		o.maxSize = n
		o.overflowFn = overflowFn
	}
}

// WithTransport supplies an explicit Transport instance, overriding the
// default TCP transport constructed from host/port.
func WithTransport(t transport.Transport) Option {
	return func(o *resolvedOptions) { o.transport = t }
}

// WithTLS enables TLS for the default TCP transport. Ignored if
// WithTransport is also given.
func WithTLS(cfg transport.TLSConfig) Option {
	return func(o *resolvedOptions) { o.tls = &cfg }
}

// WithEnabled toggles whether Emit does anything at all. Defaults to true.
func WithEnabled(enabled bool) Option {
	return func(o *resolvedOptions) { o.enabled = enabled }
}

// WithFormatter overrides the default LogstashFormatter.
func WithFormatter(f Formatter) Option {
	return func(o *resolvedOptions) { o.formatter = f }
}

// WithErrorReporter overrides the default stderr ErrorReporter.
func WithErrorReporter(r ErrorReporter) Option {
	return func(o *resolvedOptions) { o.errorReporter = r }
}

// WithTerminator overrides the per-event delimiter appended after
// formatting. An empty terminator disables framing.
func WithTerminator(terminator []byte) Option {
	return func(o *resolvedOptions) { o.terminator = terminator }
}

// WithRateLimit overrides the worker's self-logging fixed-window rate
// limit (default 60 messages per minute per error identity). A limit of
// zero disables rate limiting entirely.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(o *resolvedOptions) {
		o.rateLimit = limit
		o.rateLimitWindow = window
	}
}

// WithOTELMetrics enables publishing this handler's GetStats snapshot as
// OpenTelemetry observable gauges through the given collector endpoint.
// Disabled (the default) if endpoint is empty.
func WithOTELMetrics(endpoint string, insecure bool) Option {
	return func(o *resolvedOptions) {
		o.otelEndpoint = endpoint
		o.otelInsecure = insecure
	}
}

func newLimiter(o resolvedOptions) *ratelimiter.Limiter {
	if o.rateLimit <= 0 {
		return nil
	}
	return ratelimiter.New(o.rateLimit, o.rateLimitWindow)
}
