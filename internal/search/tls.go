package search

import (
	"crypto/x509"
	"os"
)

// tlsCertPool loads a CA cert (path or inline PEM) into a pool rooted in the
// system trust store, so a self-signed cluster cert doesn't force disabling
// verification entirely.
func tlsCertPool(caCert string) *x509.CertPool {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	pem := []byte(caCert)
	if data, err := os.ReadFile(caCert); err == nil {
		pem = data
	}
	pool.AppendCertsFromPEM(pem)
	return pool
}
