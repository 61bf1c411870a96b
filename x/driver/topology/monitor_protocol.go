package topology

import (
	"fmt"

	"github.com/dbdrift/topologycore/address"
	"github.com/dbdrift/topologycore/description"
	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
	"github.com/dbdrift/topologycore/x/driver/wiremessage"
)

// buildHelloCommand builds the {hello: 1, helloOk: true} admin command sent
// by every monitor probe.
func buildHelloCommand() bsoncore.Document {
	body := bsoncore.AppendInt32Element(nil, "hello", 1)
	body = bsoncore.AppendBooleanElement(body, "helloOk", true)
	extra := bsoncore.AppendStringElement(nil, "$db", "admin")
	return bsoncore.Document(bsoncore.BuildDocument(nil, body, extra))
}

// encodeMonitorMessage wraps cmd in a minimal OP_MSG envelope (no
// compression: the initial handshake is never compressed).
func encodeMonitorMessage(cmd bsoncore.Document) []byte {
	body := make([]byte, 0, 5+len(cmd))
	body = append(body, 0, 0, 0, 0)
	body = append(body, 0)
	body = append(body, cmd...)

	dst := wiremessage.AppendHeader(nil, 0, 1, 0, wiremessage.OpMsg)
	dst = append(dst, body...)
	dst = wiremessage.UpdateLength(dst, 0, int32(len(dst)))
	return dst
}

func decodeMonitorReply(wm []byte) (bsoncore.Document, error) {
	header, rest, err := wiremessage.ReadHeader(wm)
	if err != nil {
		return nil, err
	}
	if header.OpCode != wiremessage.OpMsg {
		return nil, fmt.Errorf("unexpected monitor reply opcode %s", header.OpCode)
	}
	if len(rest) < 5 || rest[4] != 0 {
		return nil, fmt.Errorf("malformed monitor reply")
	}
	doc := bsoncore.Document(rest[5:])
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// parseHelloReply converts a hello/ismaster reply document into a Server
// descriptor.
func parseHelloReply(addr address.Address, doc bsoncore.Document) (description.Server, error) {
	return description.NewServerFromReply(addr, doc)
}
