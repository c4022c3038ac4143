package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/logasync/eventlog/internal/logstats"
)

// UDPTransport opens a datagram socket per Send call and writes each event
// as an individual datagram, closing the socket afterward. Grounded on
// original_source/log_async/transport.py's UdpTransport.
type UDPTransport struct {
	addr string

	stats       *logstats.Bundle
	sentBytes   *logstats.Value
	sentMsgs    *logstats.Value
	errorsTotal *logstats.Value
}

// NewUDPTransport creates a transport targeting host:port over UDP.
func NewUDPTransport(host string, port int) *UDPTransport {
	bundle, sentBytes, sentMsgs, errorsTotal := newStats()
	return &UDPTransport{
		addr:        net.JoinHostPort(host, fmt.Sprintf("%d", port)),
		stats:       bundle,
		sentBytes:   sentBytes,
		sentMsgs:    sentMsgs,
		errorsTotal: errorsTotal,
	}
}

func (t *UDPTransport) Send(ctx context.Context, events [][]byte) error {
	t.stats.Event(int64(len(events)))

	conn, err := (&net.Dialer{}).DialContext(ctx, "udp", t.addr)
	if err != nil {
		t.errorsTotal.Inc(1)
		return fmt.Errorf("transport: dial udp %s: %w", t.addr, err)
	}
	defer conn.Close()

	var sent int64
	var bytes int64
	for _, event := range events {
		n, err := conn.Write(event)
		if err != nil {
			t.errorsTotal.Inc(1)
			// bytes_sent reflects datagrams that actually left the socket
			// regardless of later failure; sent_total/sent_msgs only count
			// once the whole batch succeeds, since the worker requeues the
			// entire batch on error and a retry must not double-count
			// messages already tallied here.
			t.sentBytes.Inc(bytes)
			return fmt.Errorf("transport: udp write: %w", err)
		}
		sent++
		bytes += int64(n)
	}

	t.sentMsgs.Inc(sent)
	t.sentBytes.Inc(bytes)
	t.stats.Send(sent)
	return nil
}

func (t *UDPTransport) GetStats() []logstats.Snapshot { return t.stats.GetStats() }

// Close is a no-op: the datagram socket is already closed after each Send.
func (t *UDPTransport) Close() error { return nil }

var _ Transport = (*UDPTransport)(nil)
