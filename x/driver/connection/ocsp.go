package connection

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"time"

	"golang.org/x/crypto/ocsp"
)

// OCSPOptions configures certificate revocation checking during the TLS
// handshake.
type OCSPOptions struct {
	// DisableEndpointChecking turns the whole check into a no-op.
	DisableEndpointChecking bool
}

// verifyOCSP checks the stapled OCSP response attached to the TLS handshake,
// if any. Absence of a staple is a soft failure (the connection proceeds, as
// contacting responders directly is not attempted from the data path) unless
// the certificate carries the must-staple extension, in which case it fails.
func verifyOCSP(ctx context.Context, connState *tls.ConnectionState, opts *OCSPOptions) error {
	if opts.DisableEndpointChecking {
		return nil
	}
	if len(connState.VerifiedChains) == 0 {
		return nil
	}
	chain := connState.VerifiedChains[0]
	if len(chain) < 2 {
		return nil
	}
	cert, issuer := chain[0], chain[1]

	if len(connState.OCSPResponse) == 0 {
		if mustStaple(cert) {
			return fmt.Errorf("server certificate requires an OCSP staple but none was provided")
		}
		return nil
	}

	res, err := ocsp.ParseResponseForCert(connState.OCSPResponse, cert, issuer)
	if err != nil {
		return fmt.Errorf("error parsing stapled OCSP response: %w", err)
	}
	if !res.NextUpdate.IsZero() && res.NextUpdate.Before(time.Now()) {
		return nil // expired staple: treated as no staple
	}
	if res.Status == ocsp.Revoked {
		return fmt.Errorf("certificate for %q is revoked", cert.Subject.CommonName)
	}
	return nil
}

// tlsFeatureExtensionOID identifies the RFC 7633 TLS feature extension;
// status_request (5) inside it means the certificate must be stapled.
var tlsFeatureExtensionOID = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 24}

func mustStaple(cert *x509.Certificate) bool {
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(tlsFeatureExtensionOID) {
			// DER sequence of integers; status_request is 0x05.
			for i := 0; i+2 < len(ext.Value); i++ {
				if ext.Value[i] == 0x02 && ext.Value[i+1] == 0x01 && ext.Value[i+2] == 0x05 {
					return true
				}
			}
		}
	}
	return false
}
