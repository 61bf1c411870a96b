package connection

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/dbdrift/topologycore/description"
	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
	"github.com/dbdrift/topologycore/x/driver"
	"github.com/dbdrift/topologycore/x/driver/wiremessage"
)

// driverName/driverVersion identify this driver in the handshake's client
// metadata document.
const (
	driverName    = "topologycore"
	driverVersion = "1.0.0"
)

var handshakeRequestID int32

// HandshakeResult carries everything negotiated by the initial hello:
// the parsed server descriptor, the chosen compressor, and the SASL hints
// needed by authentication.
type HandshakeResult struct {
	Description        description.Server
	SaslSupportedMechs []string
	SpeculativeReply   bsoncore.Document
	ClusterTime        bsoncore.Document
}

// handshakeOptions parameterizes the first hello on a new link.
type handshakeOptions struct {
	appName      string
	compressors  []string
	username     string // "db.user" principal for saslSupportedMechs
	loadBalanced bool
}

// performHandshake sends the first hello on a fresh link, with the client
// metadata document, the compressor list, and (when credentials are
// configured) the saslSupportedMechs negotiation hint. It never compresses
// and runs under the link's configured socket timeout.
func (c *connection) performHandshake(ctx context.Context, opts handshakeOptions) (*HandshakeResult, error) {
	cmd := buildHandshakeCommand(opts)
	wm := encodeHandshakeMessage(cmd)

	if err := c.WriteWireMessage(ctx, wm); err != nil {
		return nil, driver.HandshakeError{Wrapped: err}
	}
	replyBytes, err := c.ReadWireMessage(ctx)
	if err != nil {
		return nil, driver.HandshakeError{Wrapped: err}
	}
	reply, err := decodeHandshakeReply(replyBytes)
	if err != nil {
		return nil, driver.HandshakeError{Wrapped: err}
	}

	desc, err := description.NewServerFromReply(c.addr, reply)
	if err != nil {
		return nil, driver.HandshakeError{Wrapped: err}
	}
	desc.LastUpdateTime = time.Now()
	desc.Compressor = negotiateCompressor(opts.compressors, desc.Compressors)

	result := &HandshakeResult{Description: desc}
	if v, err := reply.LookupErr("saslSupportedMechs"); err == nil {
		elems, err := v.Array().Elements()
		if err == nil {
			for _, e := range elems {
				if s, ok := e.Value().StringValueOK(); ok {
					result.SaslSupportedMechs = append(result.SaslSupportedMechs, s)
				}
			}
		}
	}
	if v, err := reply.LookupErr("speculativeAuthenticate"); err == nil {
		result.SpeculativeReply = v.Document()
	}
	if v, err := reply.LookupErr("$clusterTime"); err == nil {
		result.ClusterTime = v.Document()
	}

	c.setMetadata(desc)
	if desc.Compressor != "" {
		if id, ok := wiremessage.CompressorIDFromString(desc.Compressor); ok {
			c.compressor = id
			c.compressorSet = true
		}
	}
	return result, nil
}

// negotiateCompressor picks the first client-preferred compressor the server
// also advertises.
func negotiateCompressor(clientList, serverList []string) string {
	for _, want := range clientList {
		for _, have := range serverList {
			if want == have {
				return want
			}
		}
	}
	return ""
}

func buildHandshakeCommand(opts handshakeOptions) bsoncore.Document {
	body := bsoncore.AppendInt32Element(nil, "hello", 1)
	body = bsoncore.AppendBooleanElement(body, "helloOk", true)
	body = bsoncore.AppendDocumentElement(body, "client", buildClientMetadata(opts.appName))
	body = bsoncore.AppendArrayElement(body, "compression", buildStringArray(opts.compressors))
	if opts.username != "" {
		body = bsoncore.AppendStringElement(body, "saslSupportedMechs", opts.username)
	}
	if opts.loadBalanced {
		body = bsoncore.AppendBooleanElement(body, "loadBalanced", true)
	}
	extra := bsoncore.AppendStringElement(nil, "$db", "admin")
	return bsoncore.Document(bsoncore.BuildDocument(nil, body, extra))
}

// buildClientMetadata builds the driver-identity client document sent in the
// first hello on an application link; monitor probes do not carry it.
func buildClientMetadata(appName string) bsoncore.Document {
	driverDoc := bsoncore.NewDocumentBuilder().
		AppendString("name", driverName).
		AppendString("version", driverVersion).
		Build()
	osDoc := bsoncore.NewDocumentBuilder().
		AppendString("type", runtime.GOOS).
		AppendString("architecture", runtime.GOARCH).
		Build()

	b := bsoncore.NewDocumentBuilder().
		AppendDocument("driver", driverDoc).
		AppendDocument("os", osDoc).
		AppendString("platform", runtime.Version())
	if appName != "" {
		appDoc := bsoncore.NewDocumentBuilder().AppendString("name", appName).Build()
		b.AppendDocument("application", appDoc)
	}
	return b.Build()
}

func buildStringArray(values []string) bsoncore.Document {
	var elems []byte
	for i, v := range values {
		elems = bsoncore.AppendStringElement(elems, fmt.Sprintf("%d", i), v)
	}
	return bsoncore.Document(bsoncore.BuildDocument(nil, elems))
}

func encodeHandshakeMessage(cmd bsoncore.Document) []byte {
	body := make([]byte, 0, 5+len(cmd))
	body = append(body, 0, 0, 0, 0)
	body = append(body, 0)
	body = append(body, cmd...)

	reqID := atomic.AddInt32(&handshakeRequestID, 1)
	dst := wiremessage.AppendHeader(nil, 0, reqID, 0, wiremessage.OpMsg)
	dst = append(dst, body...)
	dst = wiremessage.UpdateLength(dst, 0, int32(len(dst)))
	return dst
}

func decodeHandshakeReply(wm []byte) (bsoncore.Document, error) {
	header, rest, err := wiremessage.ReadHeader(wm)
	if err != nil {
		return nil, err
	}
	if header.OpCode != wiremessage.OpMsg {
		return nil, fmt.Errorf("unexpected handshake reply opcode %s", header.OpCode)
	}
	if len(rest) < 5 || rest[4] != 0 {
		return nil, fmt.Errorf("malformed handshake reply")
	}
	doc := bsoncore.Document(rest[5:])
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}
