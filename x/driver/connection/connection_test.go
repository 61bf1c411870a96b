package connection

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/dbdrift/topologycore/description"
	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
	"github.com/dbdrift/topologycore/x/driver"
	"github.com/dbdrift/topologycore/x/driver/wiremessage"
)

func pipeConnection(nc net.Conn) *connection {
	c := &connection{
		id:             "test-1",
		nc:             nc,
		addr:           "test:27017",
		maxMessageSize: defaultMaxMessageSize,
		desc:           description.NewDefaultServer("test:27017"),
	}
	c.connected = 1
	return c
}

func buildMessage(doc bsoncore.Document) []byte {
	body := []byte{0, 0, 0, 0, 0}
	body = append(body, doc...)
	wm := wiremessage.AppendHeader(nil, 0, 1, 0, wiremessage.OpMsg)
	wm = append(wm, body...)
	return wiremessage.UpdateLength(wm, 0, int32(len(wm)))
}

func TestReadWireMessageFraming(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	want := buildMessage(bsoncore.NewDocumentBuilder().AppendInt32("ok", 1).Build())
	go func() {
		_, _ = server.Write(want[:3]) // drip the length prefix across writes
		_, _ = server.Write(want[3:])
	}()

	c := pipeConnection(client)
	got, err := c.ReadWireMessage(context.Background())
	if err != nil {
		t.Fatalf("ReadWireMessage error: %v", err)
	}
	if len(got) != len(want) {
		t.Errorf("message length: want %d, got %d", len(want), len(got))
	}
}

func TestWriteWireMessageRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	msg := buildMessage(bsoncore.NewDocumentBuilder().AppendString("hello", "world").Build())

	received := make(chan []byte, 1)
	go func() {
		buf := make([]byte, len(msg))
		if _, err := readFull(server, buf); err == nil {
			received <- buf
		}
	}()

	c := pipeConnection(client)
	if err := c.WriteWireMessage(context.Background(), msg); err != nil {
		t.Fatalf("WriteWireMessage error: %v", err)
	}
	select {
	case got := <-received:
		if len(got) != len(msg) {
			t.Errorf("server received %d bytes, want %d", len(got), len(msg))
		}
	case <-time.After(time.Second):
		t.Fatal("server never received the message")
	}
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// An oversized message fails before any bytes reach the socket.
func TestWriteWireMessageTooLarge(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := pipeConnection(client)
	c.maxMessageSize = 64

	err := c.WriteWireMessage(context.Background(), make([]byte, 65))
	var protoErr driver.ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("want ProtocolError, got %v", err)
	}
	// The connection must still be usable: nothing was written.
	if c.Expired() {
		t.Error("connection closed by a pre-write size check")
	}
}

// A reply whose length prefix exceeds the negotiated maximum fails with a
// ProtocolError and closes the link.
func TestReadWireMessageTooLarge(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_, _ = server.Write([]byte{0xff, 0xff, 0xff, 0x7f}) // ~2GiB claimed length
	}()

	c := pipeConnection(client)
	_, err := c.ReadWireMessage(context.Background())
	var protoErr driver.ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("want ProtocolError, got %v", err)
	}
}

// A context deadline expiring mid-I/O surfaces as NetworkTimeout.
func TestWriteWireMessageDeadline(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close() // nothing ever reads, so the write blocks

	c := pipeConnection(client)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.WriteWireMessage(ctx, buildMessage(bsoncore.EmptyDocument()))
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !driver.IsNetworkError(err) {
		t.Errorf("want network error, got %T: %v", err, err)
	}
}

func TestExpiredAfterIdleTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := pipeConnection(client)
	c.idleTimeout = 10 * time.Millisecond
	c.bumpIdleDeadline()
	if c.Expired() {
		t.Error("fresh connection reported expired")
	}
	time.Sleep(20 * time.Millisecond)
	if !c.Expired() {
		t.Error("idle connection not reported expired")
	}
}

func TestNegotiateCompressor(t *testing.T) {
	testCases := []struct {
		name   string
		client []string
		server []string
		want   string
	}{
		{"first preference wins", []string{"zstd", "snappy"}, []string{"snappy", "zstd"}, "zstd"},
		{"no overlap", []string{"zstd"}, []string{"snappy"}, ""},
		{"server advertises nothing", []string{"snappy"}, nil, ""},
		{"client wants nothing", nil, []string{"snappy"}, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := negotiateCompressor(tc.client, tc.server); got != tc.want {
				t.Errorf("want %q, got %q", tc.want, got)
			}
		})
	}
}

func TestBuildClientMetadata(t *testing.T) {
	doc := buildClientMetadata("myapp")
	if err := doc.Validate(); err != nil {
		t.Fatalf("metadata document invalid: %v", err)
	}
	if v, err := doc.LookupErr("driver", "name"); err != nil || v.StringValue() != driverName {
		t.Errorf("driver name missing: %v", err)
	}
	if v, err := doc.LookupErr("application", "name"); err != nil || v.StringValue() != "myapp" {
		t.Errorf("application name missing: %v", err)
	}

	noApp := buildClientMetadata("")
	if _, err := noApp.LookupErr("application"); err == nil {
		t.Error("empty app name should omit the application document")
	}
}

func TestBuildHandshakeCommand(t *testing.T) {
	cmd := buildHandshakeCommand(handshakeOptions{
		appName:     "app",
		compressors: []string{"snappy", "zlib"},
		username:    "admin.user",
	})
	if err := cmd.Validate(); err != nil {
		t.Fatalf("handshake command invalid: %v", err)
	}
	if v, err := cmd.LookupErr("saslSupportedMechs"); err != nil || v.StringValue() != "admin.user" {
		t.Error("saslSupportedMechs hint missing")
	}
	comp, err := cmd.LookupErr("compression")
	if err != nil {
		t.Fatal("compression list missing")
	}
	elems, _ := comp.Array().Elements()
	if len(elems) != 2 {
		t.Errorf("compression list: want 2 entries, got %d", len(elems))
	}
}
