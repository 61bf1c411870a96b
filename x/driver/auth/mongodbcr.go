package auth

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"

	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
)

// newMongoDBCRAuthenticator creates the legacy challenge-response
// authenticator: getnonce followed by authenticate with an MD5 proof.
func newMongoDBCRAuthenticator(cred *Cred) (Authenticator, error) {
	return &mongoDBCRAuthenticator{
		source:   cred.Source,
		username: cred.Username,
		password: cred.Password,
	}, nil
}

type mongoDBCRAuthenticator struct {
	source   string
	username string
	password string
}

func (a *mongoDBCRAuthenticator) Auth(ctx context.Context, cfg *Config) error {
	source := a.source
	if source == "" {
		source = "admin"
	}

	cmd := bsoncore.AppendInt32Element(nil, "getnonce", 1)
	reply, err := runCommand(ctx, cfg.Connection, source, cmd)
	if err != nil {
		return newAuthError("failed to get nonce", err)
	}
	var nonce string
	if v, lerr := reply.LookupErr("nonce"); lerr == nil {
		nonce = v.StringValue()
	}
	if nonce == "" {
		return newAuthError("server did not return a nonce", nil)
	}

	key := mongoCRKey(a.username, a.password, nonce)
	cmd = bsoncore.AppendInt32Element(nil, "authenticate", 1)
	cmd = bsoncore.AppendStringElement(cmd, "user", a.username)
	cmd = bsoncore.AppendStringElement(cmd, "nonce", nonce)
	cmd = bsoncore.AppendStringElement(cmd, "key", key)
	if _, err := runCommand(ctx, cfg.Connection, source, cmd); err != nil {
		return newAuthError("unable to authenticate using mechanism \"MONGODB-CR\"", err)
	}
	return nil
}

// mongoPasswordDigest computes the MD5 credential digest used by both
// MONGODB-CR and the SCRAM-SHA-1 key derivation.
func mongoPasswordDigest(username, password string) string {
	h := md5.New()
	_, _ = io.WriteString(h, username)
	_, _ = io.WriteString(h, ":mongo:")
	_, _ = io.WriteString(h, password)
	return fmt.Sprintf("%x", h.Sum(nil))
}

func mongoCRKey(username, password, nonce string) string {
	h := md5.New()
	_, _ = io.WriteString(h, nonce)
	_, _ = io.WriteString(h, username)
	_, _ = io.WriteString(h, mongoPasswordDigest(username, password))
	return fmt.Sprintf("%x", h.Sum(nil))
}
