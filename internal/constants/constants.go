// Package constants collects the tunables shared by the buffer, worker, and
// transport packages. The timing and size tunables are compile-time
// constants; they cannot be overridden at run time.
package constants

import "time"

const (
	// SocketTimeout bounds how long a transport send may block on connect/write.
	SocketTimeout = 5 * time.Second

	// QueueCheckInterval is how long the worker sleeps between idle polls of
	// the ingress queue. Also the upper bound on shutdown responsiveness
	// beyond the socket/database timeouts.
	QueueCheckInterval = 2 * time.Second

	// QueuedEventsFlushInterval is the max time between buffer flushes when
	// the event count threshold hasn't been reached.
	QueuedEventsFlushInterval = 10 * time.Second

	// QueuedEventsFlushCount is the number of buffered writes after which a
	// flush is triggered regardless of the interval.
	QueuedEventsFlushCount = 50

	// DatabaseEventChunkSize bounds how many event IDs appear in a single
	// `IN (...)` clause, to stay under SQLite's per-statement variable limit.
	DatabaseEventChunkSize = 750

	// DatabaseTimeout bounds how long the durable buffer waits on a busy
	// database before surfacing a lock error.
	DatabaseTimeout = 5 * time.Second
)

// Stats prefixes, matching the source project's constants module.
const (
	DatabaseStatsPrefix  = "eventlog_bufdb_"
	MemoryStatsPrefix    = "eventlog_bufmem_"
	WorkerStatsPrefix    = "eventlog_worker_"
	TransportStatsPrefix = "eventlog_transport_"
)

// RecordFieldSkipList names record attributes that are never copied as
// sibling fields into the Logstash-formatted output because they duplicate
// or displace the well-known top-level fields. Carried over from the source
// project's FORMATTER_RECORD_FIELD_SKIP_LIST for fidelity with hosts that
// pass through Python-style attribute names; Go callers populating Record.Fields
// directly rarely hit these, but the filter costs nothing to keep.
var RecordFieldSkipList = map[string]struct{}{
	"args": {}, "asctime": {}, "created": {}, "exc_info": {}, "exc_text": {},
	"filename": {}, "funcName": {}, "id": {}, "levelname": {}, "levelno": {},
	"lineno": {}, "module": {}, "msecs": {}, "message": {}, "msg": {},
	"name": {}, "pathname": {}, "process": {}, "processName": {},
	"relativeCreated": {}, "stack_info": {}, "thread": {}, "threadName": {},
}
