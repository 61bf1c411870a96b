package mongo

import (
	"context"

	"github.com/dbdrift/topologycore/x/driver/session"
)

// Session represents a logical session: causal-consistency bookkeeping and
// transaction state with mongos pinning.
type Session struct {
	client  *Client
	session *session.Client
}

// ID returns the session's opaque id.
func (s *Session) ID() [16]byte { return [16]byte(s.session.SessionID) }

// StartTransaction begins a transaction on this session.
func (s *Session) StartTransaction() error {
	return s.session.StartTransaction()
}

// CommitTransaction commits the active transaction. A failed commit attaches
// the UnknownTransactionCommitResult label.
func (s *Session) CommitTransaction(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	db := s.client.Database("admin")
	res := db.RunCommand(ctx, map[string]interface{}{"commitTransaction": int32(1)})
	s.session.CommitTransaction()
	if err := res.Err(); err != nil {
		var cmdErr CommandError
		if errorsAsCommand(err, &cmdErr) {
			cmdErr.Labels = append(cmdErr.Labels, "UnknownTransactionCommitResult")
			return cmdErr
		}
		return err
	}
	return nil
}

// AbortTransaction aborts the active transaction and clears any server pin.
func (s *Session) AbortTransaction(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	db := s.client.Database("admin")
	res := db.RunCommand(ctx, map[string]interface{}{"abortTransaction": int32(1)})
	s.session.AbortTransaction()
	return res.Err()
}

// EndSession returns the session to the client's pool.
func (s *Session) EndSession(ctx context.Context) {
	s.session.EndSession()
}

func errorsAsCommand(err error, target *CommandError) bool {
	ce, ok := err.(CommandError)
	if !ok {
		return false
	}
	*target = ce
	return true
}
