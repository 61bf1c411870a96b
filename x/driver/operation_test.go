package driver

import (
	"context"
	"errors"
	"testing"

	"github.com/dbdrift/topologycore/description"
	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
	"github.com/dbdrift/topologycore/x/driver/session"
	"github.com/dbdrift/topologycore/x/driver/wiremessage"
)

// buildReplyMessage wraps doc in an OP_MSG the way a server reply arrives.
func buildReplyMessage(doc bsoncore.Document) []byte {
	body := []byte{0, 0, 0, 0, 0}
	body = append(body, doc...)
	wm := wiremessage.AppendHeader(nil, 0, 1, 1, wiremessage.OpMsg)
	wm = append(wm, body...)
	return wiremessage.UpdateLength(wm, 0, int32(len(wm)))
}

type fakeConnection struct {
	written  [][]byte
	replies  [][]byte
	writeErr error
	desc     description.Server
}

func (f *fakeConnection) WriteWireMessage(ctx context.Context, wm []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, wm)
	return nil
}

func (f *fakeConnection) ReadWireMessage(ctx context.Context) ([]byte, error) {
	if len(f.replies) == 0 {
		return nil, errors.New("no reply queued")
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

func (f *fakeConnection) Description() description.Server { return f.desc }
func (f *fakeConnection) Close() error                    { return nil }
func (f *fakeConnection) ID() string                      { return "fake-1" }
func (f *fakeConnection) Address() string                 { return string(f.desc.Addr) }
func (f *fakeConnection) Stale() bool                     { return false }

type fakeServer struct {
	conns []*fakeConnection
}

func (f *fakeServer) Connection(context.Context) (Connection, error) {
	if len(f.conns) == 0 {
		return nil, errors.New("no connections queued")
	}
	conn := f.conns[0]
	f.conns = f.conns[1:]
	return conn, nil
}

type fakeDeployment struct {
	server   *fakeServer
	failures []Classification
}

func (f *fakeDeployment) SelectServer(context.Context, description.ServerSelector) (Server, error) {
	return f.server, nil
}

func (f *fakeDeployment) Kind() description.TopologyKind { return description.Single }

func (f *fakeDeployment) ProcessFailure(addr string, err error, isNetworkError, isNotMaster bool) {
	f.failures = append(f.failures, Classification{Err: err, NetworkError: isNetworkError, NotMaster: isNotMaster})
}

func okReply() bsoncore.Document {
	return bsoncore.NewDocumentBuilder().AppendInt32("ok", 1).Build()
}

func testConn() *fakeConnection {
	desc := description.NewDefaultServer("fake:27017")
	desc.Kind = description.Standalone
	vr := description.NewVersionRange(6, 17)
	desc.WireVersion = &vr
	return &fakeConnection{desc: desc}
}

func pingOp(dep Deployment) *Operation {
	return &Operation{
		CommandFn: func(dst []byte, _ description.SelectedServer) ([]byte, error) {
			return bsoncore.AppendInt32Element(dst, "ping", 1), nil
		},
		Type:       Read,
		Database:   "admin",
		Deployment: dep,
	}
}

func TestOperationExecuteSuccess(t *testing.T) {
	conn := testConn()
	conn.replies = [][]byte{buildReplyMessage(okReply())}
	dep := &fakeDeployment{server: &fakeServer{conns: []*fakeConnection{conn}}}

	op := pingOp(dep)
	if err := op.Execute(context.Background(), nil); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if len(conn.written) != 1 {
		t.Fatalf("want 1 message written, got %d", len(conn.written))
	}

	header, _, err := wiremessage.ReadHeader(conn.written[0])
	if err != nil {
		t.Fatalf("written message malformed: %v", err)
	}
	if header.OpCode != wiremessage.OpMsg {
		t.Errorf("opcode: want OpMsg, got %s", header.OpCode)
	}
	if v, err := op.ResultDocument().LookupErr("ok"); err != nil || mustInt32(v) != 1 {
		t.Errorf("result not captured: %v", op.ResultDocument())
	}
}

func mustInt32(v bsoncore.Value) int32 {
	n, _ := v.AsInt32OK()
	return n
}

func TestOperationClusterTimeGossip(t *testing.T) {
	ct := bsoncore.NewDocumentBuilder().AppendInt64("clusterTime", 42).Build()
	reply := bsoncore.NewDocumentBuilder().
		AppendInt32("ok", 1).
		AppendDocument("$clusterTime", ct).
		Build()

	conn := testConn()
	conn.replies = [][]byte{buildReplyMessage(reply)}
	dep := &fakeDeployment{server: &fakeServer{conns: []*fakeConnection{conn}}}

	clock := new(session.ClusterClock)
	op := pingOp(dep)
	op.Clock = clock
	if err := op.Execute(context.Background(), nil); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	got := clock.GetClusterTime()
	if got == nil {
		t.Fatal("cluster time not advanced")
	}
	if v, err := got.LookupErr("clusterTime"); err != nil || mustInt64(v) != 42 {
		t.Errorf("cluster time mismatch: %v", got)
	}
}

func mustInt64(v bsoncore.Value) int64 {
	n, _ := v.AsInt64OK()
	return n
}

// A not-master reply surfaces as a typed error and is reported to the
// deployment with the NotMaster classification.
func TestOperationNotMasterReported(t *testing.T) {
	reply := bsoncore.NewDocumentBuilder().
		AppendInt32("ok", 0).
		AppendInt32("code", 10107).
		AppendString("errmsg", "not master").
		Build()

	conn := testConn()
	conn.replies = [][]byte{buildReplyMessage(reply)}
	dep := &fakeDeployment{server: &fakeServer{conns: []*fakeConnection{conn}}}

	op := pingOp(dep)
	err := op.Execute(context.Background(), nil)
	var cmdErr Error
	if !errors.As(err, &cmdErr) || cmdErr.Code != 10107 {
		t.Fatalf("want command error with code 10107, got %v", err)
	}

	if len(dep.failures) != 1 {
		t.Fatalf("want 1 reported failure, got %d", len(dep.failures))
	}
	if !dep.failures[0].NotMaster {
		t.Error("failure not classified as not-master")
	}
}

// A retryable operation that hits a network error is retried exactly once
// against a freshly selected connection.
func TestOperationRetriesOnceOnNetworkError(t *testing.T) {
	bad := testConn()
	bad.writeErr = errors.New("broken pipe")
	good := testConn()
	good.replies = [][]byte{buildReplyMessage(okReply())}

	dep := &fakeDeployment{server: &fakeServer{conns: []*fakeConnection{bad, good}}}

	retry := RetryOncePerCommand
	op := pingOp(dep)
	op.Type = Write
	op.RetryMode = &retry
	if err := op.Execute(context.Background(), nil); err != nil {
		t.Fatalf("Execute should succeed on retry, got %v", err)
	}
	if len(good.written) != 1 {
		t.Errorf("retry did not reach the second connection")
	}
	if len(dep.failures) != 1 || !dep.failures[0].NetworkError {
		t.Errorf("network failure not reported before retry: %+v", dep.failures)
	}
}

// Without a retry mode the first failure is final.
func TestOperationNoRetryWithoutMode(t *testing.T) {
	bad := testConn()
	bad.writeErr = errors.New("broken pipe")
	good := testConn()
	good.replies = [][]byte{buildReplyMessage(okReply())}

	dep := &fakeDeployment{server: &fakeServer{conns: []*fakeConnection{bad, good}}}
	op := pingOp(dep)
	op.Type = Write

	if err := op.Execute(context.Background(), nil); err == nil {
		t.Fatal("expected failure without retry mode")
	}
	if len(good.written) != 0 {
		t.Error("operation retried despite RetryMode being unset")
	}
}
