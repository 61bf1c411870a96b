package auth

import (
	"context"

	"github.com/xdg-go/scram"
	"github.com/xdg-go/stringprep"
)

// newScramSHA1Authenticator creates a SCRAM-SHA-1 authenticator. The
// password is MD5-digested into the legacy credential form before keying
// the SCRAM client, matching the server's stored verifier.
func newScramSHA1Authenticator(cred *Cred) (Authenticator, error) {
	passdigest := mongoPasswordDigest(cred.Username, cred.Password)
	client, err := scram.SHA1.NewClientUnprepped(cred.Username, passdigest, "")
	if err != nil {
		return nil, newAuthError("error initializing SCRAM-SHA-1 client", err)
	}
	client.WithMinIterations(4096)
	return &ScramAuthenticator{
		mechanism: SCRAMSHA1,
		source:    cred.Source,
		client:    client,
	}, nil
}

// newScramSHA256Authenticator creates a SCRAM-SHA-256 authenticator, with
// the password normalized through SASLprep.
func newScramSHA256Authenticator(cred *Cred) (Authenticator, error) {
	passprep, err := stringprep.SASLprep.Prepare(cred.Password)
	if err != nil {
		return nil, newAuthError("error SASLprepping password", err)
	}
	client, err := scram.SHA256.NewClientUnprepped(cred.Username, passprep, "")
	if err != nil {
		return nil, newAuthError("error initializing SCRAM-SHA-256 client", err)
	}
	client.WithMinIterations(4096)
	return &ScramAuthenticator{
		mechanism: SCRAMSHA256,
		source:    cred.Source,
		client:    client,
	}, nil
}

// ScramAuthenticator uses the SCRAM algorithm over SASL framing to
// authenticate a connection.
type ScramAuthenticator struct {
	mechanism string
	source    string
	client    *scram.Client
}

// Auth implements Authenticator.
func (a *ScramAuthenticator) Auth(ctx context.Context, cfg *Config) error {
	adapter := &scramSaslAdapter{mechanism: a.mechanism, conversation: a.client.NewConversation()}
	if err := ConductSaslConversation(ctx, cfg.Connection, a.source, adapter); err != nil {
		return newAuthError("sasl conversation error", err)
	}
	return nil
}

// scramSaslAdapter adapts an xdg-go/scram conversation to the SaslClient
// framing interface.
type scramSaslAdapter struct {
	mechanism    string
	conversation *scram.ClientConversation
}

func (a *scramSaslAdapter) Start() (string, []byte, error) {
	step, err := a.conversation.Step("")
	if err != nil {
		return a.mechanism, nil, err
	}
	return a.mechanism, []byte(step), nil
}

func (a *scramSaslAdapter) Next(challenge []byte) ([]byte, error) {
	step, err := a.conversation.Step(string(challenge))
	if err != nil {
		return nil, err
	}
	return []byte(step), nil
}

func (a *scramSaslAdapter) Completed() bool {
	return a.conversation.Valid()
}
