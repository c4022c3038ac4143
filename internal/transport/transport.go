// Package transport implements the wire-level senders that ship a flushed
// batch of already-framed events to the remote collector. Grounded on
// original_source/log_async/transport.py.
package transport

import (
	"context"

	"github.com/logasync/eventlog/internal/constants"
	"github.com/logasync/eventlog/internal/logstats"
)

// Transport ships a batch of pre-framed events (each already terminated by
// the formatter's configured delimiter) to the remote collector.
type Transport interface {
	Send(ctx context.Context, events [][]byte) error
	GetStats() []logstats.Snapshot
	Close() error
}

func newStats() (*logstats.Bundle, *logstats.Value, *logstats.Value, *logstats.Value) {
	bundle := logstats.NewBundle(constants.TransportStatsPrefix)
	sentBytes := logstats.NewValue(constants.TransportStatsPrefix + "sent_bytes")
	sentMsgs := logstats.NewValue(constants.TransportStatsPrefix + "sent_msgs")
	errorsTotal := logstats.NewValue(constants.TransportStatsPrefix + "errors_total")
	bundle.Extend(sentBytes, sentMsgs, errorsTotal)
	return bundle, sentBytes, sentMsgs, errorsTotal
}
