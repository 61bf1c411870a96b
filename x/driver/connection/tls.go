package connection

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/youmark/pkcs8"

	"github.com/dbdrift/topologycore/address"
)

// wellKnownCAPaths is consulted when no CA file is configured: the
// configured path is tried first, then the usual OS bundle locations.
var wellKnownCAPaths = []string{
	"/etc/ssl/certs/ca-certificates.crt",
	"/etc/pki/tls/certs/ca-bundle.crt",
	"/etc/ssl/ca-bundle.pem",
	"/etc/pki/tls/cacert.pem",
	"/etc/pki/ca-trust/extracted/pem/tls-ca-bundle.pem",
	"/usr/local/etc/openssl/cert.pem",
}

// TLSOptions carries the application-facing TLS settings resolved from the
// URI and client configuration.
type TLSOptions struct {
	CAFile                string
	CertificateKeyFile    string
	CertificateKeyPassword string
	Insecure              bool
	DisableHostnameCheck  bool
}

// NewTLSConfig builds a *tls.Config from opts. SNI is always enabled (the
// ServerName is filled per-connection at handshake time); hostname
// verification is on unless explicitly disabled.
func NewTLSConfig(opts TLSOptions) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if opts.Insecure {
		cfg.InsecureSkipVerify = true
	}

	if opts.CAFile != "" {
		if err := addCACertFromFile(cfg, opts.CAFile); err != nil {
			return nil, err
		}
	} else if !opts.Insecure {
		for _, path := range wellKnownCAPaths {
			if _, err := os.Stat(path); err == nil {
				if err := addCACertFromFile(cfg, path); err == nil {
					break
				}
			}
		}
		// Fall through with a nil RootCAs: crypto/tls then uses the system pool.
	}

	if opts.CertificateKeyFile != "" {
		if err := addClientCertFromFile(cfg, opts.CertificateKeyFile, opts.CertificateKeyPassword); err != nil {
			return nil, err
		}
	}

	if opts.DisableHostnameCheck && !opts.Insecure {
		// Keep chain verification but skip the hostname match.
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = verifyChainOnly(cfg.RootCAs)
	}

	return cfg, nil
}

func addCACertFromFile(cfg *tls.Config, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	if cfg.RootCAs == nil {
		cfg.RootCAs = x509.NewCertPool()
	}
	if !cfg.RootCAs.AppendCertsFromPEM(data) {
		return fmt.Errorf("the specified CA file %q does not contain any valid certificates", file)
	}
	return nil
}

// addClientCertFromFile loads a combined PEM certificate/key file, decrypting
// encrypted PKCS#8 private keys with the supplied password.
func addClientCertFromFile(cfg *tls.Config, file, password string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	var certBlocks, keyBytes []byte
	for rest := data; ; {
		block, remainder := pem.Decode(rest)
		if block == nil {
			break
		}
		rest = remainder

		switch {
		case block.Type == "CERTIFICATE":
			certBlocks = append(certBlocks, pem.EncodeToMemory(block)...)
		case strings.Contains(block.Type, "PRIVATE KEY"):
			if keyBytes != nil {
				return errors.New("client certificate file must contain exactly one private key")
			}
			keyBytes, err = decodePrivateKeyBlock(block, password)
			if err != nil {
				return err
			}
		}
	}
	if len(certBlocks) == 0 {
		return fmt.Errorf("no CERTIFICATE block found in %q", file)
	}
	if keyBytes == nil {
		return fmt.Errorf("no PRIVATE KEY block found in %q", file)
	}

	cert, err := tls.X509KeyPair(certBlocks, keyBytes)
	if err != nil {
		return err
	}
	cfg.Certificates = append(cfg.Certificates, cert)
	return nil
}

func decodePrivateKeyBlock(block *pem.Block, password string) ([]byte, error) {
	switch {
	case block.Type == "ENCRYPTED PRIVATE KEY":
		if password == "" {
			return nil, errors.New("no password provided to decrypt private key")
		}
		key, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, []byte(password))
		if err != nil {
			return nil, err
		}
		der, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			return nil, err
		}
		return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
	case x509.IsEncryptedPEMBlock(block):
		if password == "" {
			return nil, errors.New("no password provided to decrypt private key")
		}
		der, err := x509.DecryptPEMBlock(block, []byte(password))
		if err != nil {
			return nil, err
		}
		return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
	default:
		return pem.EncodeToMemory(block), nil
	}
}

func verifyChainOnly(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return err
			}
			certs = append(certs, cert)
		}
		if len(certs) == 0 {
			return errors.New("no server certificate presented")
		}
		opts := x509.VerifyOptions{Roots: roots, Intermediates: x509.NewCertPool()}
		for _, cert := range certs[1:] {
			opts.Intermediates.AddCert(cert)
		}
		_, err := certs[0].Verify(opts)
		return err
	}
}

// clientHandshake performs the TLS handshake over nc, filling in the SNI
// server name from the address host and running OCSP verification on the
// resulting connection state.
func clientHandshake(ctx context.Context, nc net.Conn, addr address.Address, cfg *tls.Config, ocspOpts *OCSPOptions) (net.Conn, error) {
	config := cfg.Clone()
	if config.ServerName == "" {
		host := string(addr)
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		config.ServerName = host
	}

	client := tls.Client(nc, config)
	if err := client.HandshakeContext(ctx); err != nil {
		return nil, err
	}

	if ocspOpts != nil && !config.InsecureSkipVerify {
		state := client.ConnectionState()
		if err := verifyOCSP(ctx, &state, ocspOpts); err != nil {
			return nil, err
		}
	}
	return client, nil
}
