package port

// CertificateAuthority mints leaf certificates signed by a root CA
type CertificateAuthority interface {
	// Issue returns a PEM certificate and PEM private key for hostname, signed
	// by the root CA stored at rootCertPath and rootKeyPath
	Issue(hostname, rootCertPath, rootKeyPath string) (certificatePEM string, privateKeyPEM string, err error)
}
