package auth

import "context"

// newPlainAuthenticator creates a PLAIN (LDAP passthrough) authenticator.
func newPlainAuthenticator(cred *Cred) (Authenticator, error) {
	return &plainAuthenticator{
		source:   cred.Source,
		username: cred.Username,
		password: cred.Password,
	}, nil
}

type plainAuthenticator struct {
	source   string
	username string
	password string
}

func (a *plainAuthenticator) Auth(ctx context.Context, cfg *Config) error {
	source := a.source
	if source == "" {
		source = "$external"
	}
	return ConductSaslConversation(ctx, cfg.Connection, source, &plainSaslClient{
		username: a.username,
		password: a.password,
	})
}

type plainSaslClient struct {
	username string
	password string
	done     bool
}

func (c *plainSaslClient) Start() (string, []byte, error) {
	b := []byte("\x00" + c.username + "\x00" + c.password)
	c.done = true
	return PLAIN, b, nil
}

func (c *plainSaslClient) Next([]byte) ([]byte, error) {
	return nil, newAuthError("unexpected server challenge for PLAIN", nil)
}

func (c *plainSaslClient) Completed() bool { return c.done }
