package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTLSTerminator_HandshakeWithMintedCertificate(t *testing.T) {
	t.Parallel()

	testCA := newTestCA(t)
	terminator := NewTLSTerminator(testCA.issuer, testCA.certPath, testCA.keyPath, false, newTestLogger())
	terminator.SetRootCAs(testCA.pool(t))

	acceptor, err := terminator.AcceptorFor("example.com")
	require.NoError(t, err)
	assert.Equal(t, tls.NoClientCert, acceptor.config.ClientAuth)
	require.Len(t, acceptor.config.Certificates, 1)

	connector, err := terminator.ConnectorWithPublicRoots()
	require.NoError(t, err)

	serverSide, clientSide := tcpPair(t)
	defer serverSide.Close()
	defer clientSide.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	accepted := make(chan *tls.Conn, 1)
	go func() {
		conn, err := acceptor.Accept(ctx, serverSide)
		if err != nil {
			accepted <- nil
			return
		}
		accepted <- conn
	}()

	client, err := connector.Connect(ctx, clientSide, "example.com")
	require.NoError(t, err)
	server := <-accepted
	require.NotNil(t, server)

	assert.Equal(t, "http/1.1", client.ConnectionState().NegotiatedProtocol)
	peer := client.ConnectionState().PeerCertificates
	require.NotEmpty(t, peer)
	assert.Equal(t, []string{"example.com"}, peer[0].DNSNames)

	go func() {
		server.Write([]byte("over tls"))
	}()
	buf := make([]byte, len("over tls"))
	_, err = io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, "over tls", string(buf))
}

func TestTLSTerminator_ConnectorRejectsUntrustedServer(t *testing.T) {
	t.Parallel()

	testCA := newTestCA(t)
	terminator := NewTLSTerminator(testCA.issuer, testCA.certPath, testCA.keyPath, false, newTestLogger())
	// trusts an unrelated root
	terminator.SetRootCAs(newTestCA(t).pool(t))

	acceptor, err := terminator.AcceptorFor("example.com")
	require.NoError(t, err)
	connector, err := terminator.ConnectorWithPublicRoots()
	require.NoError(t, err)

	serverSide, clientSide := tcpPair(t)
	defer serverSide.Close()
	defer clientSide.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go func() {
		acceptor.Accept(ctx, serverSide)
		serverSide.Close()
	}()

	_, err = connector.Connect(ctx, clientSide, "example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outbound TLS handshake")
}

func TestTLSTerminator_CertificateCache(t *testing.T) {
	t.Parallel()

	testCA := newTestCA(t)

	t.Run("memoized per hostname", func(t *testing.T) {
		t.Parallel()
		authority := &countingAuthority{delegate: testCA.issuer}
		terminator := NewTLSTerminator(authority, testCA.certPath, testCA.keyPath, true, newTestLogger())

		first, err := terminator.AcceptorFor("a.example")
		require.NoError(t, err)
		second, err := terminator.AcceptorFor("a.example")
		require.NoError(t, err)
		_, err = terminator.AcceptorFor("b.example")
		require.NoError(t, err)

		assert.Equal(t, 2, authority.count())
		assert.Equal(t, 2, terminator.CachedHosts())
		assert.Same(t, first.config.Certificates[0].Leaf, second.config.Certificates[0].Leaf)
	})

	t.Run("expired entries are reissued", func(t *testing.T) {
		t.Parallel()
		authority := &countingAuthority{delegate: testCA.issuer}
		terminator := NewTLSTerminator(authority, testCA.certPath, testCA.keyPath, true, newTestLogger())

		_, err := terminator.AcceptorFor("a.example")
		require.NoError(t, err)
		terminator.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err = terminator.AcceptorFor("a.example")
		require.NoError(t, err)

		assert.Equal(t, 2, authority.count())
	})

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		authority := &countingAuthority{delegate: testCA.issuer}
		terminator := NewTLSTerminator(authority, testCA.certPath, testCA.keyPath, false, newTestLogger())

		for i := 0; i < 3; i++ {
			_, err := terminator.AcceptorFor("a.example")
			require.NoError(t, err)
		}
		assert.Equal(t, 3, authority.count())
		assert.Zero(t, terminator.CachedHosts())
	})

	t.Run("authority failure", func(t *testing.T) {
		t.Parallel()
		authority := &countingAuthority{err: errors.New("signing failed")}
		terminator := NewTLSTerminator(authority, testCA.certPath, testCA.keyPath, true, newTestLogger())

		_, err := terminator.AcceptorFor("a.example")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "signing failed")
		assert.Zero(t, terminator.CachedHosts())
	})
}

func pemText(blockType string, der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}))
}

func TestParseCertificatePEM(t *testing.T) {
	t.Parallel()

	testCA := newTestCA(t)
	certPEM, keyPEM, err := testCA.issuer.Issue("example.com", testCA.certPath, testCA.keyPath)
	require.NoError(t, err)

	t.Run("certificate", func(t *testing.T) {
		der, err := ParseCertificatePEM(certPEM)
		require.NoError(t, err)
		_, err = x509.ParseCertificate(der)
		assert.NoError(t, err)
	})

	t.Run("unknown labels are skipped", func(t *testing.T) {
		der, err := ParseCertificatePEM(pemText("COMMENT", []byte("x")) + certPEM)
		require.NoError(t, err)
		assert.NotEmpty(t, der)
	})

	t.Run("key instead of certificate", func(t *testing.T) {
		_, err := ParseCertificatePEM(keyPEM)
		assert.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := ParseCertificatePEM("")
		assert.Error(t, err)
	})
}

func TestParsePrivateKeyPEM(t *testing.T) {
	t.Parallel()

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pkcs8, err := x509.MarshalPKCS8PrivateKey(ecKey)
	require.NoError(t, err)
	sec1, err := x509.MarshalECPrivateKey(ecKey)
	require.NoError(t, err)

	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{name: "pkcs1", text: pemText("RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(rsaKey))},
		{name: "pkcs8", text: pemText("PRIVATE KEY", pkcs8)},
		{name: "sec1", text: pemText("EC PRIVATE KEY", sec1)},
		{name: "sec1 after unknown label", text: pemText("EC PARAMETERS", []byte{6, 8}) + pemText("EC PRIVATE KEY", sec1)},
		{name: "certificate first", text: pemText("CERTIFICATE", []byte("x")) + pemText("EC PRIVATE KEY", sec1), wantErr: true},
		{name: "corrupt key", text: pemText("PRIVATE KEY", []byte("garbage")), wantErr: true},
		{name: "no key", text: "not pem at all", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			key, err := ParsePrivateKeyPEM(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, key)
		})
	}
}

func TestNewCertificate(t *testing.T) {
	t.Parallel()

	testCA := newTestCA(t)
	certPEM, keyPEM, err := testCA.issuer.Issue("127.0.0.1", testCA.certPath, testCA.keyPath)
	require.NoError(t, err)

	cert, err := NewCertificate(certPEM, keyPEM)
	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)
	assert.Equal(t, "127.0.0.1", cert.Leaf.IPAddresses[0].String())

	_, err = NewCertificate(certPEM, certPEM)
	assert.Error(t, err)
}
