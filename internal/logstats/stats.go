// Package logstats implements the named-counter/gauge registry shared by the
// buffer, worker, and transport subsystems.
//
// The original Python implementation (log_async/stats.py) prefers
// prometheus_client and falls back to a hand-rolled Value/Counter/Gauge
// when that package isn't importable — its own comment notes the fallback
// works "since these are used within same thread, no mutexes are needed."
// This package keeps that shape but makes it safe for cross-goroutine
// access: GetStats() snapshots read from arbitrary goroutines while the
// worker goroutine mutates them concurrently. sync/atomic replaces the
// bare int the source relies on single-threaded access for.
package logstats

import (
	"strings"
	"sync/atomic"
)

// Value is a single named int64 statistic.
type Value struct {
	name string
	v    atomic.Int64
}

// NewValue creates a named value starting at zero.
func NewValue(name string) *Value { return &Value{name: name} }

// Name returns the statistic's registered name.
func (v *Value) Name() string { return v.name }

// Inc adds n (n may be negative for a Gauge).
func (v *Value) Inc(n int64) { v.v.Add(n) }

// Set assigns an absolute value; only meaningful for gauges.
func (v *Value) Set(n int64) { v.v.Store(n) }

// Load returns the current value.
func (v *Value) Load() int64 { return v.v.Load() }

// Snapshot is a single (name, value) pair returned by GetStats.
type Snapshot struct {
	Name  string
	Value int64
}

// Bundle composes a set of named Values for one subsystem, mirroring the
// source's LogStats/DatabaseStats/WorkerStats composition — re-expressed
// as composition instead of inheritance, Go having no classes to inherit
// from.
type Bundle struct {
	prefix string
	all    []*Value

	events    *Value
	discarded *Value
	buffered  *Value
	sent      *Value
}

// NewBundle creates the four values every subsystem exposes:
// events_total, discarded_total, buffered_events, sent_total.
func NewBundle(prefix string) *Bundle {
	b := &Bundle{
		prefix:    prefix,
		events:    NewValue(prefix + "events_total"),
		discarded: NewValue(prefix + "discarded_total"),
		buffered:  NewValue(prefix + "buffered_events"),
		sent:      NewValue(prefix + "sent_total"),
	}
	b.all = []*Value{b.events, b.discarded, b.buffered, b.sent}
	return b
}

// Prefix returns the subsystem's stats name prefix.
func (b *Bundle) Prefix() string { return b.prefix }

// Extend registers additional subsystem-specific values (e.g. file_bytes,
// lock_errors_total for the durable buffer, or queue_size for the worker) so
// they're included in GetStats.
func (b *Bundle) Extend(values ...*Value) { b.all = append(b.all, values...) }

// Event records n newly-received events (events_total).
func (b *Bundle) Event(n int64) { b.events.Inc(n) }

// Send records n events successfully handed off to the collector (sent_total).
func (b *Bundle) Send(n int64) { b.sent.Inc(n) }

// Discard records n events dropped (overflow, TTL expiry) (discarded_total).
func (b *Bundle) Discard(n int64) { b.discarded.Inc(n) }

// Buffer increments the buffered_events gauge by n.
func (b *Bundle) Buffer(n int64) { b.buffered.Inc(n) }

// Unbuffer decrements the buffered_events gauge by n, never going negative —
// mirrors the source's unbuffer(), which clamps to min(current, n).
func (b *Bundle) Unbuffer(n int64) {
	cur := b.buffered.Load()
	if n > cur {
		n = cur
	}
	b.buffered.Inc(-n)
}

// BufferedCount returns the live buffered_events gauge value.
func (b *Bundle) BufferedCount() int64 { return b.buffered.Load() }

// GetStats returns a snapshot of every registered value.
func (b *Bundle) GetStats() []Snapshot {
	out := make([]Snapshot, len(b.all))
	for i, v := range b.all {
		out[i] = Snapshot{Name: v.Name(), Value: v.Load()}
	}
	return out
}

// Lookup finds the first snapshot whose name contains substr
// (case-insensitive), as the source's module-level `lookup` helper is used
// in its test suite for finding e.g. "buffered" or "sent_total" among a
// subsystem's stats.
func Lookup(stats []Snapshot, substr string) (Snapshot, bool) {
	substr = strings.ToLower(substr)
	for _, s := range stats {
		if strings.Contains(strings.ToLower(s.Name), substr) {
			return s, true
		}
	}
	return Snapshot{}, false
}
