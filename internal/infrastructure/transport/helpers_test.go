package transport

import (
	"context"
	"crypto/x509"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tapwire/tapwire/internal/domain/model"
	"github.com/tapwire/tapwire/internal/infrastructure/ca"
	"github.com/tapwire/tapwire/internal/infrastructure/logger"
)

func newTestLogger() *logger.Logger {
	return logger.NewDiscardLogger()
}

type testCA struct {
	certPath string
	keyPath  string
	issuer   *ca.Issuer
}

func newTestCA(t *testing.T) *testCA {
	t.Helper()

	dir := t.TempDir()
	c := &testCA{
		certPath: filepath.Join(dir, "sca.pem"),
		keyPath:  filepath.Join(dir, "sca.key"),
		issuer:   ca.NewIssuer(time.Hour),
	}
	_, err := ca.GenerateRoot(c.certPath, c.keyPath, "tapwire test CA")
	require.NoError(t, err)
	return c
}

func (c *testCA) pool(t *testing.T) *x509.CertPool {
	t.Helper()

	root, _, err := ca.LoadRoot(c.certPath, c.keyPath)
	require.NoError(t, err)
	pool := x509.NewCertPool()
	pool.AddCert(root)
	return pool
}

// countingAuthority records how often a certificate was minted
type countingAuthority struct {
	mutex    sync.Mutex
	issued   int
	delegate *ca.Issuer
	err      error
}

func (a *countingAuthority) Issue(hostname, rootCertPath, rootKeyPath string) (string, string, error) {
	a.mutex.Lock()
	a.issued++
	a.mutex.Unlock()
	if a.err != nil {
		return "", "", a.err
	}
	return a.delegate.Issue(hostname, rootCertPath, rootKeyPath)
}

func (a *countingAuthority) count() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.issued
}

// serveOnce accepts a single connection on loopback and hands it to handle
func serveOnce(t *testing.T, handle func(ctx context.Context, conn net.Conn) error) (string, <-chan error) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	errs := make(chan error, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			errs <- err
			return
		}
		errs <- handle(context.Background(), conn)
	}()
	return listener.Addr().String(), errs
}

// collectUntilClosed drains chunks of one connection until its close marker
func collectUntilClosed(t *testing.T, chunks <-chan model.ProxyData) []model.ProxyData {
	t.Helper()

	var collected []model.ProxyData
	timeout := time.After(10 * time.Second)
	for {
		select {
		case chunk := <-chunks:
			collected = append(collected, chunk)
			if chunk.Closed {
				return collected
			}
		case <-timeout:
			t.Fatalf("timed out waiting for close marker, got %d chunks", len(collected))
			return nil
		}
	}
}

// joined concatenates the payloads of chunks going in direction
func joined(chunks []model.ProxyData, direction model.StreamDirection) string {
	var out []byte
	for i := range chunks {
		if !chunks[i].Closed && chunks[i].Direction == direction {
			out = append(out, chunks[i].Bytes()...)
		}
	}
	return string(out)
}

// tcpPair returns both ends of a loopback TCP connection
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			accepted <- nil
			return
		}
		accepted <- conn
	}()

	client, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	server := <-accepted
	require.NotNil(t, server)

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return server, client
}
