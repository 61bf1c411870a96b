package mongo

import (
	"context"
	"testing"

	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
	"github.com/dbdrift/topologycore/x/driver/operation"
)

func doc(x int32) bsoncore.Document {
	return bsoncore.NewDocumentBuilder().AppendInt32("x", x).Build()
}

// An exhausted cursor (id 0) yields exactly its batch, in order, and never
// dials out.
func TestCursorYieldsBatchInOrder(t *testing.T) {
	c := &Cursor{
		client: &Client{},
		batch:  []bsoncore.Document{doc(1), doc(2), doc(3)},
		id:     0,
	}

	var got []int32
	for c.Next(context.Background()) {
		v, err := c.Current().LookupErr("x")
		if err != nil {
			t.Fatalf("current document malformed: %v", err)
		}
		n, _ := v.AsInt32OK()
		got = append(got, n)
	}
	if c.Err() != nil {
		t.Fatalf("cursor error: %v", c.Err())
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("documents out of order or missing: %v", got)
	}

	// Iterating past exhaustion stays exhausted.
	if c.Next(context.Background()) {
		t.Error("Next returned true after exhaustion")
	}
}

func TestCursorHonorsLimit(t *testing.T) {
	c := &Cursor{
		client: &Client{},
		batch:  []bsoncore.Document{doc(1), doc(2), doc(3)},
		id:     0,
		limit:  2,
	}
	count := 0
	for c.Next(context.Background()) {
		count++
	}
	if count != 2 {
		t.Errorf("limit not honored: got %d documents", count)
	}
}

// Closing an already-exhausted cursor is a no-op; no killCursors is issued
// because the id is zero.
func TestCursorCloseExhaustedNoOp(t *testing.T) {
	c := &Cursor{client: &Client{}, id: 0}
	if err := c.Close(context.Background()); err != nil {
		t.Errorf("Close on exhausted cursor: %v", err)
	}
	// Double close is also a no-op.
	if err := c.Close(context.Background()); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

// A cursor whose client was disconnected reports the misuse instead of
// dereferencing freed state.
func TestCursorDetectsDeadClient(t *testing.T) {
	c := &Cursor{
		client: &Client{}, // sessionPool nil: client never connected or already disconnected
		batch:  nil,
		id:     99,
	}
	if c.Next(context.Background()) {
		t.Error("Next should fail when the client is gone")
	}
	if c.Err() != ErrClientDestroyedBeforeCursor {
		t.Errorf("want ErrClientDestroyedBeforeCursor, got %v", c.Err())
	}
}

func TestNewCursorParsesNamespace(t *testing.T) {
	coll := &Collection{
		client: &Client{},
		db:     &Database{name: "fallbackdb"},
		name:   "fallbackcoll",
	}
	cr := operation.CursorResponse{
		Namespace: "realdb.realcoll",
		ID:        42,
		Batch:     []bsoncore.Document{doc(1)},
		Address:   "h1:27017",
	}
	c := newCursor(coll, cr, 0, 0)
	if c.db != "realdb" || c.collection != "realcoll" {
		t.Errorf("namespace not parsed: db=%q coll=%q", c.db, c.collection)
	}
	if c.ID() != 42 {
		t.Errorf("cursor id: want 42, got %d", c.ID())
	}
}
