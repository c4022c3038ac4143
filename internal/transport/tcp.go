package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/logasync/eventlog/internal/constants"
	"github.com/logasync/eventlog/internal/logstats"
)

// TLSConfig carries the TCP transport's optional TLS material. Grounded on
// transport.py's TcpTransport._create_socket SSL branch.
type TLSConfig struct {
	Enable   bool
	Verify   bool   // ssl_verify
	KeyFile  string // client private key, PEM
	CertFile string // client certificate, PEM
	CAFile   string // CA bundle used to verify the server
}

// TCPTransport opens a stream socket per Send call, optionally wraps it in
// TLS per the CERT_REQUIRED/CERT_OPTIONAL/CERT_NONE matrix, writes the
// concatenation of the batch, and closes the connection. The socket is not
// kept open across calls.
type TCPTransport struct {
	addr string
	tls  *TLSConfig
	log  *slog.Logger

	stats       *logstats.Bundle
	sentBytes   *logstats.Value
	sentMsgs    *logstats.Value
	errorsTotal *logstats.Value
}

// TCPOption configures a TCPTransport at construction.
type TCPOption func(*TCPTransport)

// WithTLS enables TLS per the given configuration.
func WithTLS(cfg TLSConfig) TCPOption {
	return func(t *TCPTransport) { t.tls = &cfg }
}

// WithTCPLogger overrides the logger used for optional-verification warnings.
func WithTCPLogger(logger *slog.Logger) TCPOption {
	return func(t *TCPTransport) { t.log = logger }
}

// NewTCPTransport creates a transport targeting host:port over TCP.
func NewTCPTransport(host string, port int, opts ...TCPOption) *TCPTransport {
	bundle, sentBytes, sentMsgs, errorsTotal := newStats()
	t := &TCPTransport{
		addr:        net.JoinHostPort(host, fmt.Sprintf("%d", port)),
		log:         slog.Default(),
		stats:       bundle,
		sentBytes:   sentBytes,
		sentMsgs:    sentMsgs,
		errorsTotal: errorsTotal,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *TCPTransport) Send(ctx context.Context, events [][]byte) error {
	t.stats.Event(int64(len(events)))

	dialer := &net.Dialer{Timeout: constants.SocketTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		t.errorsTotal.Inc(1)
		return fmt.Errorf("transport: dial tcp %s: %w", t.addr, err)
	}
	defer conn.Close()

	if t.tls != nil && t.tls.Enable {
		tlsConn, err := t.wrapTLS(conn)
		if err != nil {
			t.errorsTotal.Inc(1)
			return err
		}
		conn = tlsConn
	}

	_ = conn.SetDeadline(time.Now().Add(constants.SocketTimeout))

	payload := bytes.Join(events, nil)
	n, err := conn.Write(payload)
	if err != nil {
		t.errorsTotal.Inc(1)
		return fmt.Errorf("transport: tcp write: %w", err)
	}

	t.sentMsgs.Inc(int64(len(events)))
	t.sentBytes.Inc(int64(n))
	t.stats.Send(int64(len(events)))
	return nil
}

// wrapTLS applies the CERT_REQUIRED / CERT_OPTIONAL / CERT_NONE matrix:
//   - Verify=true: full verification, handshake fails on any cert problem.
//   - Verify=false with a CA bundle: the closest Go equivalent to
//     CERT_OPTIONAL — the handshake always succeeds, but a failed manual
//     verification against the bundle is logged as a warning.
//   - Neither: CERT_NONE, InsecureSkipVerify.
func (t *TCPTransport) wrapTLS(conn net.Conn) (net.Conn, error) {
	cfg := &tls.Config{}
	if host, _, err := net.SplitHostPort(t.addr); err == nil {
		cfg.ServerName = host
	}

	if t.tls.CertFile != "" && t.tls.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(t.tls.CertFile, t.tls.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("transport: load client cert/key: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	var pool *x509.CertPool
	if t.tls.CAFile != "" {
		pemBytes, err := os.ReadFile(t.tls.CAFile)
		if err != nil {
			return nil, fmt.Errorf("transport: read ca bundle: %w", err)
		}
		pool = x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemBytes) {
			return nil, fmt.Errorf("transport: no certificates found in %s", t.tls.CAFile)
		}
		cfg.RootCAs = pool
	}

	switch {
	case t.tls.Verify:
		cfg.InsecureSkipVerify = false
	case pool != nil:
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if err := verifyAgainstPool(rawCerts, pool); err != nil {
				t.log.Warn("transport: optional certificate verification failed", "error", err)
			}
			return nil
		}
	default:
		cfg.InsecureSkipVerify = true
	}

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return nil, fmt.Errorf("transport: tls handshake: %w", err)
	}
	return tlsConn, nil
}

func verifyAgainstPool(rawCerts [][]byte, pool *x509.CertPool) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("no peer certificates presented")
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("parse peer certificate: %w", err)
	}
	_, err = cert.Verify(x509.VerifyOptions{Roots: pool})
	return err
}

func (t *TCPTransport) GetStats() []logstats.Snapshot { return t.stats.GetStats() }

// Close is a no-op: the stream socket is already closed after each Send.
func (t *TCPTransport) Close() error { return nil }

var _ Transport = (*TCPTransport)(nil)
