package ca

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/tapwire/tapwire/internal/domain/model"
	"github.com/tapwire/tapwire/internal/domain/port"
)

// DefaultValidity is the lifetime of minted leaf certificates
const DefaultValidity = 365 * 24 * time.Hour

// Issuer mints leaf certificates signed by a root CA read from disk
type Issuer struct {
	// Validity is the lifetime of issued leaves
	Validity time.Duration
	// Organization is put in the subject of issued leaves
	Organization string
}

// NewIssuer creates a new Issuer instance
func NewIssuer(validity time.Duration) *Issuer {
	if validity <= 0 {
		validity = DefaultValidity
	}
	return &Issuer{Validity: validity, Organization: "tapwire"}
}

// Issue returns a PEM certificate and PEM private key for hostname
func (i *Issuer) Issue(hostname, rootCertPath, rootKeyPath string) (string, string, error) {
	if hostname == "" {
		return "", "", model.NewProxyError("cannot issue a certificate for an empty hostname")
	}

	rootCert, rootKey, err := LoadRoot(rootCertPath, rootKeyPath)
	if err != nil {
		return "", "", err
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", model.WrapError(err, "generate leaf key")
	}

	serial, err := randomSerial()
	if err != nil {
		return "", "", err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   hostname,
			Organization: []string{i.Organization},
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(i.Validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	if ip := net.ParseIP(hostname); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{hostname}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, rootCert, &leafKey.PublicKey, rootKey)
	if err != nil {
		return "", "", model.WrapError(err, "sign certificate for %s", hostname)
	}

	keyDER, err := x509.MarshalECPrivateKey(leafKey)
	if err != nil {
		return "", "", model.WrapError(err, "marshal leaf key")
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return string(certPEM), string(keyPEM), nil
}

// LoadRoot reads the root CA certificate and key
func LoadRoot(certPath, keyPath string) (*x509.Certificate, crypto.Signer, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, nil, model.WrapError(err, "read CA certificate %s", certPath)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, model.WrapError(err, "read CA key %s", keyPath)
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil || certBlock.Type != "CERTIFICATE" {
		return nil, nil, model.NewProxyError("no CA certificate found in %s", certPath)
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, model.WrapError(err, "parse CA certificate")
	}
	if !cert.IsCA {
		return nil, nil, model.NewProxyError("certificate at %s is not a CA certificate", certPath)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, nil, model.NewProxyError("no CA key found in %s", keyPath)
	}
	key, err := parseSigner(keyBlock.Bytes)
	if err != nil {
		return nil, nil, model.WrapError(err, "parse CA key")
	}

	return cert, key, nil
}

// GenerateRoot writes a new self-signed root CA to certPath and keyPath.
// Existing pairs are left alone; a half-present pair is an error.
func GenerateRoot(certPath, keyPath, commonName string) (bool, error) {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	certExists := certErr == nil
	keyExists := keyErr == nil

	if certExists && keyExists {
		return false, nil
	}
	if certExists {
		return false, fmt.Errorf("CA certificate exists at %s but key is missing at %s; delete both to regenerate", certPath, keyPath)
	}
	if keyExists {
		return false, fmt.Errorf("CA key exists at %s but certificate is missing at %s; delete both to regenerate", keyPath, certPath)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return false, fmt.Errorf("generate CA key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return false, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"tapwire"},
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return false, fmt.Errorf("create CA certificate: %w", err)
	}

	for _, p := range []string{certPath, keyPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return false, fmt.Errorf("create CA directory: %w", err)
		}
	}

	certOut := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(certPath, certOut, 0644); err != nil {
		return false, fmt.Errorf("write CA certificate: %w", err)
	}
	keyOut := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(keyPath, keyOut, 0600); err != nil {
		return false, fmt.Errorf("write CA key: %w", err)
	}

	return true, nil
}

func parseSigner(der []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, errors.New("PKCS8 key cannot sign")
		}
		return signer, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, errors.New("unsupported private key format")
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, model.WrapError(err, "generate serial number")
	}
	return serial, nil
}

// Ensure Issuer implements port.CertificateAuthority
var _ port.CertificateAuthority = (*Issuer)(nil)
