// Package auth implements the credential handshake over a freshly dialed
// Link. The SASL mechanisms (SCRAM-SHA-1, SCRAM-SHA-256, PLAIN) run
// saslStart/saslContinue round trips until the server's done flag is set;
// MONGODB-CR and MONGODB-X509 use the getnonce/authenticate commands.
package auth

import (
	"context"
	"fmt"

	"github.com/dbdrift/topologycore/description"
	"github.com/dbdrift/topologycore/x/driver"
)

// Mechanism names accepted in the authMechanism URI option.
const (
	SCRAMSHA1   = "SCRAM-SHA-1"
	SCRAMSHA256 = "SCRAM-SHA-256"
	MongoDBCR   = "MONGODB-CR"
	MongoDBX509 = "MONGODB-X509"
	PLAIN       = "PLAIN"
	GSSAPI      = "GSSAPI"
)

// Cred is a user's credential, resolved from the connection string.
type Cred struct {
	Source      string
	Username    string
	Password    string
	PasswordSet bool
	Props       map[string]string
}

// Config is everything an Authenticator needs to authenticate one link.
type Config struct {
	Connection         driver.Connection
	Description        description.Server
	SaslSupportedMechs []string
}

// Authenticator authenticates one connection.
type Authenticator interface {
	Auth(ctx context.Context, cfg *Config) error
}

// AuthenticatorFactory constructs an Authenticator from a Cred.
type AuthenticatorFactory func(cred *Cred) (Authenticator, error)

var authFactories = map[string]AuthenticatorFactory{
	SCRAMSHA1:   newScramSHA1Authenticator,
	SCRAMSHA256: newScramSHA256Authenticator,
	MongoDBCR:   newMongoDBCRAuthenticator,
	MongoDBX509: newMongoDBX509Authenticator,
	PLAIN:       newPlainAuthenticator,
	GSSAPI:      newGSSAPIAuthenticator,
}

// newGSSAPIAuthenticator fails: GSSAPI requires platform SASL libraries not
// linked into this build.
func newGSSAPIAuthenticator(*Cred) (Authenticator, error) {
	return nil, newAuthError("GSSAPI support requires platform SASL libraries and is not enabled in this build", nil)
}

// CreateAuthenticator creates an authenticator for the given mechanism. An
// empty mechanism selects DEFAULT negotiation.
func CreateAuthenticator(mechanism string, cred *Cred) (Authenticator, error) {
	if mechanism == "" {
		return newDefaultAuthenticator(cred)
	}
	factory, ok := authFactories[mechanism]
	if !ok {
		return nil, newAuthError(fmt.Sprintf("unknown authentication mechanism %q", mechanism), nil)
	}
	return factory(cred)
}

func newAuthError(msg string, inner error) error {
	return driver.AuthError{Message: msg, Wrapped: inner}
}

// defaultAuthenticator resolves DEFAULT against saslSupportedMechs when the
// handshake advertised it for the submitted principal, else against the
// server's wire version.
type defaultAuthenticator struct {
	cred *Cred
}

func newDefaultAuthenticator(cred *Cred) (Authenticator, error) {
	return &defaultAuthenticator{cred: cred}, nil
}

func (a *defaultAuthenticator) Auth(ctx context.Context, cfg *Config) error {
	var chosen Authenticator
	var err error
	switch {
	case len(cfg.SaslSupportedMechs) > 0:
		switch {
		case contains(cfg.SaslSupportedMechs, SCRAMSHA256):
			chosen, err = newScramSHA256Authenticator(a.cred)
		case contains(cfg.SaslSupportedMechs, SCRAMSHA1):
			chosen, err = newScramSHA1Authenticator(a.cred)
		default:
			chosen, err = newMongoDBCRAuthenticator(a.cred)
		}
	case cfg.Description.WireVersion != nil && cfg.Description.WireVersion.Max >= 7:
		chosen, err = newScramSHA256Authenticator(a.cred)
	case cfg.Description.WireVersion != nil && cfg.Description.WireVersion.Max >= 3:
		chosen, err = newScramSHA1Authenticator(a.cred)
	default:
		chosen, err = newMongoDBCRAuthenticator(a.cred)
	}
	if err != nil {
		return err
	}
	return chosen.Auth(ctx, cfg)
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
