package transport

import (
	"context"
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"net"
	"sync"
	"time"

	"github.com/tapwire/tapwire/internal/domain/model"
	"github.com/tapwire/tapwire/internal/domain/port"
)

// PEM labels recognised when reading certificate and key material.
// Anything else is skipped.
const (
	pemCertificate   = "CERTIFICATE"
	pemRSAPrivateKey = "RSA PRIVATE KEY"
	pemPKCS8Key      = "PRIVATE KEY"
	pemECPrivateKey  = "EC PRIVATE KEY"
	pemCRL           = "X509 CRL"
	pemCSR           = "CERTIFICATE REQUEST"
)

var alpnHTTP11 = []string{"http/1.1"}

type cachedCertificate struct {
	certificate *tls.Certificate
	notAfter    time.Time
}

// TLSTerminator builds the TLS server side presented to intercepted clients
// and the TLS client side used towards the real servers
type TLSTerminator struct {
	authority    port.CertificateAuthority
	rootCertPath string
	rootKeyPath  string
	logger       port.Logger

	useCache bool
	mutex    sync.RWMutex
	cache    map[string]cachedCertificate

	// roots replaces the system pool when set
	roots *x509.CertPool
	now   func() time.Time
}

// NewTLSTerminator creates a new TLSTerminator instance
func NewTLSTerminator(authority port.CertificateAuthority, rootCertPath, rootKeyPath string, useCache bool, logger port.Logger) *TLSTerminator {
	return &TLSTerminator{
		authority:    authority,
		rootCertPath: rootCertPath,
		rootKeyPath:  rootKeyPath,
		logger:       logger,
		useCache:     useCache,
		cache:        make(map[string]cachedCertificate),
		now:          time.Now,
	}
}

// SetRootCAs makes connectors trust pool instead of the system roots
func (t *TLSTerminator) SetRootCAs(pool *x509.CertPool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.roots = pool
}

// Acceptor completes server side TLS handshakes with one leaf certificate
type Acceptor struct {
	config *tls.Config
}

// AcceptorFor returns an acceptor presenting a certificate minted for hostname
func (t *TLSTerminator) AcceptorFor(hostname string) (*Acceptor, error) {
	certificate, err := t.certificateFor(hostname)
	if err != nil {
		return nil, err
	}

	return &Acceptor{
		config: &tls.Config{
			Certificates: []tls.Certificate{*certificate},
			ClientAuth:   tls.NoClientCert,
			MinVersion:   tls.VersionTLS12,
			NextProtos:   alpnHTTP11,
		},
	}, nil
}

// Accept runs the server handshake on conn
func (a *Acceptor) Accept(ctx context.Context, conn net.Conn) (*tls.Conn, error) {
	tlsConn := tls.Server(conn, a.config)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, model.WrapError(err, "inbound TLS handshake")
	}
	return tlsConn, nil
}

// Connector completes client side TLS handshakes against real servers
type Connector struct {
	roots *x509.CertPool
}

// ConnectorWithPublicRoots returns a connector trusting the public root store
func (t *TLSTerminator) ConnectorWithPublicRoots() (*Connector, error) {
	t.mutex.RLock()
	roots := t.roots
	t.mutex.RUnlock()

	if roots == nil {
		pool, err := x509.SystemCertPool()
		if err != nil {
			return nil, model.WrapError(err, "load system root certificates")
		}
		roots = pool
	}
	return &Connector{roots: roots}, nil
}

// Connect runs the client handshake on conn using serverName for SNI and
// certificate verification
func (c *Connector) Connect(ctx context.Context, conn net.Conn, serverName string) (*tls.Conn, error) {
	tlsConn := tls.Client(conn, &tls.Config{
		ServerName: serverName,
		RootCAs:    c.roots,
		MinVersion: tls.VersionTLS12,
		NextProtos: alpnHTTP11,
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, model.WrapError(err, "outbound TLS handshake with %s", serverName)
	}
	return tlsConn, nil
}

func (t *TLSTerminator) certificateFor(hostname string) (*tls.Certificate, error) {
	if t.useCache {
		t.mutex.RLock()
		cached, ok := t.cache[hostname]
		t.mutex.RUnlock()
		if ok && t.now().Before(cached.notAfter) {
			return cached.certificate, nil
		}
	}

	certPEM, keyPEM, err := t.authority.Issue(hostname, t.rootCertPath, t.rootKeyPath)
	if err != nil {
		return nil, model.AsProxyError(err)
	}

	certificate, err := NewCertificate(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("Minted certificate for %s", hostname)

	if t.useCache {
		t.mutex.Lock()
		t.cache[hostname] = cachedCertificate{
			certificate: certificate,
			notAfter:    certificate.Leaf.NotAfter,
		}
		t.mutex.Unlock()
	}
	return certificate, nil
}

// CachedHosts returns the number of hostnames with a memoized certificate
func (t *TLSTerminator) CachedHosts() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return len(t.cache)
}

// NewCertificate builds a tls.Certificate from PEM text
func NewCertificate(certPEM, keyPEM string) (*tls.Certificate, error) {
	der, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, err
	}
	key, err := ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, model.WrapError(err, "parse leaf certificate")
	}
	return &tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

// ParseCertificatePEM returns the DER bytes of the first recognised PEM item,
// which must be a certificate
func ParseCertificatePEM(text string) ([]byte, error) {
	block := firstRecognisedBlock([]byte(text))
	if block == nil {
		return nil, model.NewProxyError("no certificate found in PEM data")
	}
	if block.Type != pemCertificate {
		return nil, model.NewProxyError("expected a certificate, found %s", block.Type)
	}
	return block.Bytes, nil
}

// ParsePrivateKeyPEM decodes the first recognised PEM item as a PKCS#1,
// PKCS#8 or SEC1 private key
func ParsePrivateKeyPEM(text string) (crypto.PrivateKey, error) {
	block := firstRecognisedBlock([]byte(text))
	if block == nil {
		return nil, model.NewProxyError("no private key found in PEM data")
	}

	var (
		key crypto.PrivateKey
		err error
	)
	switch block.Type {
	case pemRSAPrivateKey:
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case pemPKCS8Key:
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case pemECPrivateKey:
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, model.NewProxyError("unsupported private key type %s", block.Type)
	}
	if err != nil {
		return nil, model.WrapError(err, "parse %s", block.Type)
	}
	return key, nil
}

func firstRecognisedBlock(data []byte) *pem.Block {
	for len(data) > 0 {
		block, rest := pem.Decode(data)
		if block == nil {
			return nil
		}
		switch block.Type {
		case pemCertificate, pemRSAPrivateKey, pemPKCS8Key, pemECPrivateKey, pemCRL, pemCSR:
			return block
		}
		data = rest
	}
	return nil
}
