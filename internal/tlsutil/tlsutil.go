// Package tlsutil builds the TLS configurations of both tunnel endpoints.
// The control endpoint is mutually authenticated with self-issued trust: the
// server certificate doubles as the CA for client certificates, and clients
// trust the issuer certificates bundled after their own leaf. The public
// endpoint serves an ordinary HTTP-facing certificate; traffic must be
// decrypted at that hop because routing happens on the cleartext Host header.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
)

// ControlServerConfig returns the mTLS config for the control endpoint. The
// leaf of cert is installed as the client CA, so any certificate issued by
// the server certificate authenticates.
func ControlServerConfig(cert tls.Certificate) (*tls.Config, error) {
	if len(cert.Certificate) == 0 {
		return nil, errors.New("server certificate has no leaf")
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("parse server certificate: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// PublicServerConfig returns the config for the public HTTP(S) endpoint.
// getCert indirection allows live certificate reload.
func PublicServerConfig(getCert func(*tls.ClientHelloInfo) (*tls.Certificate, error)) *tls.Config {
	return &tls.Config{
		GetCertificate: getCert,
		MinVersion:     tls.VersionTLS12,
	}
}

// ClientConfig returns the config a client uses to dial the control
// endpoint. The trust roots are the issuer certificates bundled in the
// client's own certificate file, after the leaf.
func ClientConfig(cert tls.Certificate, serverName string) (*tls.Config, error) {
	if len(cert.Certificate) < 2 {
		return nil, errors.New("client certificate file must bundle the issuing server certificate after the leaf")
	}
	roots := x509.NewCertPool()
	for _, der := range cert.Certificate[1:] {
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("parse bundled issuer certificate: %w", err)
		}
		roots.AddCert(c)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      roots,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// PeerIdentity names the authenticated peer of a control or data connection,
// for logs and stats.
func PeerIdentity(cs tls.ConnectionState) string {
	if len(cs.PeerCertificates) == 0 {
		return ""
	}
	leaf := cs.PeerCertificates[0]
	if cn := leaf.Subject.CommonName; cn != "" {
		return cn
	}
	if len(leaf.DNSNames) > 0 {
		return leaf.DNSNames[0]
	}
	return leaf.SerialNumber.String()
}
