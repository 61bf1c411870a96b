package session

import (
	"testing"

	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
)

func clusterTime(ts int64) bsoncore.Document {
	return bsoncore.NewDocumentBuilder().AppendInt64("clusterTime", ts).Build()
}

func clockValue(t *testing.T, cc *ClusterClock) int64 {
	t.Helper()
	ct := cc.GetClusterTime()
	if ct == nil {
		t.Fatal("cluster time unset")
	}
	v, err := ct.LookupErr("clusterTime")
	if err != nil {
		t.Fatalf("malformed cluster time: %v", err)
	}
	n, _ := v.AsInt64OK()
	return n
}

// The cluster clock only moves forward: an older gossiped time never
// regresses it.
func TestClusterClockMonotonic(t *testing.T) {
	cc := new(ClusterClock)

	cc.AdvanceClusterTime(clusterTime(10))
	if got := clockValue(t, cc); got != 10 {
		t.Fatalf("initial advance: want 10, got %d", got)
	}

	cc.AdvanceClusterTime(clusterTime(5))
	if got := clockValue(t, cc); got != 10 {
		t.Errorf("older time regressed the clock: got %d", got)
	}

	cc.AdvanceClusterTime(clusterTime(20))
	if got := clockValue(t, cc); got != 20 {
		t.Errorf("newer time not adopted: got %d", got)
	}
}

func TestClusterClockNilSafety(t *testing.T) {
	var cc *ClusterClock
	if cc.GetClusterTime() != nil {
		t.Error("nil clock should report no cluster time")
	}
	cc.AdvanceClusterTime(clusterTime(1)) // must not panic

	cc2 := new(ClusterClock)
	cc2.AdvanceClusterTime(nil) // must not panic
	if cc2.GetClusterTime() != nil {
		t.Error("nil advance should not set a time")
	}
}

func TestSessionPoolReuse(t *testing.T) {
	p := NewPool(nil)
	defer p.Close()

	id1 := p.checkOut()
	if p.CheckedOut() != 1 {
		t.Fatalf("checked out: want 1, got %d", p.CheckedOut())
	}
	p.checkIn(id1)
	if p.CheckedOut() != 0 {
		t.Fatalf("checked out after return: want 0, got %d", p.CheckedOut())
	}

	id2 := p.checkOut()
	if id2 != id1 {
		t.Error("pool did not reuse the returned session id")
	}
}

func TestTransactionPinning(t *testing.T) {
	p := NewPool(nil)
	defer p.Close()

	var clientID [16]byte
	sess, err := NewClientSession(p, clientID, Explicit)
	if err != nil {
		t.Fatalf("NewClientSession error: %v", err)
	}
	defer sess.EndSession()

	if err := sess.StartTransaction(); err != nil {
		t.Fatalf("StartTransaction error: %v", err)
	}
	if !sess.InActiveTransaction() {
		t.Error("session not in active transaction after start")
	}

	sess.PinToServer("mongos1:27017")
	if sess.PinnedServerAddr != "mongos1:27017" {
		t.Error("pin not recorded")
	}

	// A transient transaction error unpins so the retry reselects.
	sess.UnpinServer()
	if sess.PinnedServerAddr != "" {
		t.Error("unpin did not clear the address")
	}

	sess.AbortTransaction()
	if sess.InActiveTransaction() {
		t.Error("aborted session still reports active transaction")
	}
}
