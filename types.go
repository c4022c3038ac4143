package eventlog

import (
	"time"

	"github.com/logasync/eventlog/internal/logstats"
)

// Record is the opaque log event handed to Emit by the host logging
// integration: the record itself is opaque, and formatting is delegated
// to a Formatter. SlogHandler populates one from every slog.Record it
// handles.
type Record struct {
	Time    time.Time
	Level   string
	Message string
	Host    string
	PID     int
	Fields  map[string]any
}

// Formatter turns a Record into the bytes that go out over the wire, not
// including the terminator.
type Formatter interface {
	Format(r Record) ([]byte, error)
}

// ErrorReporter receives errors raised while formatting or enqueuing a
// record, standing in for the host logging framework's handleError. The
// default reporter writes to stderr.
type ErrorReporter interface {
	HandleError(r Record, err error)
}

// Stats is the aggregate snapshot returned by Handler.GetStats: every
// subsystem's counters concatenated together, prefixed per-subsystem.
type Stats = []logstats.Snapshot
