package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"dualgate/internal/core/ports"
)

var (
	ErrNoClientCertificate = errors.New("transport: client certificate required")
	ErrInvalidCABundle     = errors.New("transport: client ca bundle has no certificates")
)

// CAPoolValidator accepts client chains that verify against a fixed CA pool
// for client authentication.
type CAPoolValidator struct {
	roots *x509.CertPool
}

func NewCAPoolValidator(roots *x509.CertPool) *CAPoolValidator {
	return &CAPoolValidator{roots: roots}
}

// LoadCAPoolValidator reads a PEM bundle of client CAs.
func LoadCAPoolValidator(caFile string) (*CAPoolValidator, error) {
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read client ca bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCABundle, caFile)
	}
	return NewCAPoolValidator(pool), nil
}

var _ ports.CertificateValidator = (*CAPoolValidator)(nil)

func (v *CAPoolValidator) Validate(rawCerts [][]byte) error {
	if len(rawCerts) == 0 {
		return ErrNoClientCertificate
	}

	certs := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return fmt.Errorf("parse client certificate: %w", err)
		}
		certs = append(certs, cert)
	}

	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}

	_, err := certs[0].Verify(x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
	if err != nil {
		return fmt.Errorf("verify client certificate %q: %w", certs[0].Subject.CommonName, err)
	}
	return nil
}

// NewServerTLSConfig requires a client certificate on every handshake and
// hands the chain to validator. Only TLS 1.2 and 1.3 are negotiated.
func NewServerTLSConfig(cert tls.Certificate, validator ports.CertificateValidator) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAnyClientCert,
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS13,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return validator.Validate(rawCerts)
		},
	}
}

// LoadServerTLSConfig builds the listener config from PEM files.
func LoadServerTLSConfig(certFile, keyFile, clientCAFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}
	validator, err := LoadCAPoolValidator(clientCAFile)
	if err != nil {
		return nil, err
	}
	return NewServerTLSConfig(cert, validator), nil
}
