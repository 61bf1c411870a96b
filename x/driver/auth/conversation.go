package auth

import (
	"context"
	"sync/atomic"

	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
	"github.com/dbdrift/topologycore/x/driver"
	"github.com/dbdrift/topologycore/x/driver/wiremessage"
)

var authRequestID int32

// runCommand executes one auth-phase command over the connection and
// returns the reply document. Auth commands are never compressed and travel as plain OP_MSG.
func runCommand(ctx context.Context, conn driver.Connection, db string, cmd []byte) (bsoncore.Document, error) {
	extra := bsoncore.AppendStringElement(nil, "$db", db)
	doc := bsoncore.BuildDocument(nil, cmd, extra)

	body := make([]byte, 0, 5+len(doc))
	body = append(body, 0, 0, 0, 0)
	body = append(body, 0)
	body = append(body, doc...)

	reqID := atomic.AddInt32(&authRequestID, 1)
	wm := wiremessage.AppendHeader(nil, 0, reqID, 0, wiremessage.OpMsg)
	wm = append(wm, body...)
	wm = wiremessage.UpdateLength(wm, 0, int32(len(wm)))

	if err := conn.WriteWireMessage(ctx, wm); err != nil {
		return nil, err
	}
	replyBytes, err := conn.ReadWireMessage(ctx)
	if err != nil {
		return nil, err
	}

	header, rest, err := wiremessage.ReadHeader(replyBytes)
	if err != nil {
		return nil, err
	}
	if header.OpCode != wiremessage.OpMsg || len(rest) < 5 || rest[4] != 0 {
		return nil, newAuthError("malformed authentication reply", nil)
	}
	reply := bsoncore.Document(rest[5:])
	if err := reply.Validate(); err != nil {
		return nil, err
	}

	if ok := replyOK(reply); !ok {
		msg := "authentication command failed"
		if v, err := reply.LookupErr("errmsg"); err == nil {
			msg = v.StringValue()
		}
		return reply, newAuthError(msg, nil)
	}
	return reply, nil
}

func replyOK(reply bsoncore.Document) bool {
	v, err := reply.LookupErr("ok")
	if err != nil {
		return false
	}
	if b, isBool := v.AsBooleanOK(); isBool {
		return b
	}
	if n, isNum := v.AsInt32OK(); isNum {
		return n == 1
	}
	return false
}

// SaslClient is implemented by mechanisms that speak the generic
// saslStart/saslContinue framing.
type SaslClient interface {
	Start() (mechanism string, payload []byte, err error)
	Next(challenge []byte) (payload []byte, err error)
	Completed() bool
}

// ConductSaslConversation drives a SaslClient through saslStart and
// saslContinue round trips against the given auth source until the server
// reports done.
func ConductSaslConversation(ctx context.Context, conn driver.Connection, source string, client SaslClient) error {
	if source == "" {
		source = "admin"
	}

	mech, payload, err := client.Start()
	if err != nil {
		return newAuthError("failed to start SASL conversation", err)
	}

	cmd := bsoncore.AppendInt32Element(nil, "saslStart", 1)
	cmd = bsoncore.AppendStringElement(cmd, "mechanism", mech)
	cmd = bsoncore.AppendBinaryElement(cmd, "payload", payload)
	optsDoc := bsoncore.NewDocumentBuilder().AppendBoolean("skipEmptyExchange", true).Build()
	cmd = bsoncore.AppendDocumentElement(cmd, "options", optsDoc)

	for {
		reply, err := runCommand(ctx, conn, source, cmd)
		if err != nil {
			return newAuthError("sasl conversation error", err)
		}

		conversationID := int32(0)
		if v, lerr := reply.LookupErr("conversationId"); lerr == nil {
			conversationID, _ = v.AsInt32OK()
		}
		var challenge []byte
		if v, lerr := reply.LookupErr("payload"); lerr == nil {
			_, challenge, _ = v.BinaryOK()
		}
		done := false
		if v, lerr := reply.LookupErr("done"); lerr == nil {
			done, _ = v.AsBooleanOK()
		}

		if done && client.Completed() {
			return nil
		}

		payload, err = client.Next(challenge)
		if err != nil {
			return newAuthError("sasl conversation error", err)
		}

		if done && client.Completed() {
			return nil
		}

		cmd = bsoncore.AppendInt32Element(nil, "saslContinue", 1)
		cmd = bsoncore.AppendInt32Element(cmd, "conversationId", conversationID)
		cmd = bsoncore.AppendBinaryElement(cmd, "payload", payload)
	}
}
