package auth

import (
	"context"

	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
)

// newMongoDBX509Authenticator creates a MONGODB-X509 authenticator. The
// username, when present, must match the client certificate subject; the
// server derives it from the TLS session when omitted (wire version 5+).
func newMongoDBX509Authenticator(cred *Cred) (Authenticator, error) {
	return &mongoDBX509Authenticator{username: cred.Username}, nil
}

type mongoDBX509Authenticator struct {
	username string
}

func (a *mongoDBX509Authenticator) Auth(ctx context.Context, cfg *Config) error {
	cmd := bsoncore.AppendInt32Element(nil, "authenticate", 1)
	cmd = bsoncore.AppendStringElement(cmd, "mechanism", MongoDBX509)
	if a.username != "" {
		cmd = bsoncore.AppendStringElement(cmd, "user", a.username)
	}
	if _, err := runCommand(ctx, cfg.Connection, "$external", cmd); err != nil {
		return newAuthError("unable to authenticate using mechanism \"MONGODB-X509\"", err)
	}
	return nil
}
