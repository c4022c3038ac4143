package transport

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logasync/eventlog/internal/logstats"
)

func splitAddr(t *testing.T, addr net.Addr) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr.String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestTCPTransportSendWritesConcatenatedBatch(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		buf := make([]byte, 0, 64)
		tmp := make([]byte, 64)
		deadline := time.Now().Add(2 * time.Second)
		_ = conn.SetReadDeadline(deadline)
		for {
			n, err := reader.Read(tmp)
			if n > 0 {
				buf = append(buf, tmp[:n]...)
			}
			if err != nil {
				break
			}
		}
		received <- string(buf)
	}()

	host, port := splitAddr(t, ln.Addr())
	transport := NewTCPTransport(host, port)
	err = transport.Send(context.Background(), [][]byte{[]byte("one\n"), []byte("two\n")})
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, "one\ntwo\n", got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to read")
	}

	stats := transport.GetStats()
	bytesSent, ok := logstats.Lookup(stats, "sent_bytes")
	require.True(t, ok)
	assert.EqualValues(t, len("one\ntwo\n"), bytesSent.Value)
}

func TestTCPTransportDialFailureIncrementsErrors(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port := splitAddr(t, ln.Addr())
	require.NoError(t, ln.Close()) // nothing listens now

	transport := NewTCPTransport("127.0.0.1", port)
	err = transport.Send(context.Background(), [][]byte{[]byte("x")})
	assert.Error(t, err)

	stats := transport.GetStats()
	errs, ok := logstats.Lookup(stats, "errors_total")
	require.True(t, ok)
	assert.EqualValues(t, 1, errs.Value)
}

// generateSelfSignedCert writes a throwaway CA+server cert pair to dir and
// returns their paths, for exercising the TLS verification matrix.
func generateSelfSignedCert(t *testing.T, dir string) (certFile, keyFile string, caFile string) {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:         true,
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	require.NoError(t, err)

	certFile = filepath.Join(dir, "server.pem")
	keyFile = filepath.Join(dir, "server.key")
	caFile = filepath.Join(dir, "ca.pem")

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o600))
	require.NoError(t, os.WriteFile(caFile, certPEM, 0o600))

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))

	return certFile, keyFile, caFile
}

func TestTCPTransportSendOverTLSWithFullVerification(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile, caFile := generateSelfSignedCert(t, dir)

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	require.NoError(t, err)

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _ := conn.Read(buf)
		received <- string(buf[:n])
	}()

	host, port := splitAddr(t, ln.Addr())
	transport := NewTCPTransport(host, port, WithTLS(TLSConfig{
		Enable: true,
		Verify: true,
		CAFile: caFile,
	}))

	err = transport.Send(context.Background(), [][]byte{[]byte("secure\n")})
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, "secure\n", got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tls server to read")
	}
}

func TestTCPTransportSendOverTLSWithoutVerificationSkipsCertCheck(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile, _ := generateSelfSignedCert(t, dir)

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	require.NoError(t, err)

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _ = conn.Read(buf)
	}()

	host, port := splitAddr(t, ln.Addr())
	transport := NewTCPTransport(host, port, WithTLS(TLSConfig{
		Enable: true,
		Verify: false,
	}))

	err = transport.Send(context.Background(), [][]byte{[]byte("insecure\n")})
	assert.NoError(t, err)
}
