package transport

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logasync/eventlog/internal/logstats"
)

func TestUDPTransportSendDeliversEachEventAsDatagram(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer conn.Close()

	host, portStr, err := net.SplitHostPort(conn.LocalAddr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	received := make(chan string, 2)
	go func() {
		buf := make([]byte, 1024)
		for i := 0; i < 2; i++ {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			received <- string(buf[:n])
		}
	}()

	transport := NewUDPTransport(host, port)
	err = transport.Send(context.Background(), [][]byte{[]byte("one\n"), []byte("two\n")})
	require.NoError(t, err)

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case msg := <-received:
			got = append(got, msg)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for datagram")
		}
	}
	assert.ElementsMatch(t, []string{"one\n", "two\n"}, got)

	stats := transport.GetStats()
	msgs, ok := logstats.Lookup(stats, "sent_msgs")
	require.True(t, ok)
	assert.EqualValues(t, 2, msgs.Value)
}

func TestUDPTransportSendToInvalidHostIncrementsErrors(t *testing.T) {
	// Port 0 connect succeeds for UDP (connectionless) but writing may still
	// fail on some platforms; instead exercise the error path via a bad host.
	transport := NewUDPTransport("256.256.256.256", 9) // invalid IPv4 literal
	err := transport.Send(context.Background(), [][]byte{[]byte("x")})
	assert.Error(t, err)

	stats := transport.GetStats()
	errs, ok := logstats.Lookup(stats, "errors_total")
	require.True(t, ok)
	assert.EqualValues(t, 1, errs.Value)
}

func TestUDPTransportCloseIsNoop(t *testing.T) {
	transport := NewUDPTransport("127.0.0.1", 1)
	assert.NoError(t, transport.Close())
}
