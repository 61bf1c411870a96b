package mongo

import (
	"context"
	"strings"

	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
	"github.com/dbdrift/topologycore/x/driver/operation"
)

// Cursor is a lazy iterator over a server-side result stream.
// It keeps a non-owning reference to its originating client and is pinned to
// the address that produced its cursor id.
type Cursor struct {
	client     *Client
	db         string
	collection string
	addr       string

	id        int64
	batch     []bsoncore.Document
	pos       int
	current   bsoncore.Document
	batchSize int32
	limit     int64
	returned  int64
	err       error
	closed    bool
}

func newCursor(coll *Collection, cr operation.CursorResponse, limit int64, batchSize int32) *Cursor {
	dbName, collName := coll.db.name, coll.name
	if cr.Namespace != "" {
		if idx := strings.Index(cr.Namespace, "."); idx != -1 {
			dbName = cr.Namespace[:idx]
			collName = cr.Namespace[idx+1:]
		}
	}
	return &Cursor{
		client:     coll.client,
		db:         dbName,
		collection: collName,
		addr:       cr.Address,
		id:         cr.ID,
		batch:      cr.Batch,
		batchSize:  batchSize,
		limit:      limit,
	}
}

// ID returns the id of this cursor; zero means the server has exhausted it.
func (c *Cursor) ID() int64 { return c.id }

// Current returns the document the cursor is positioned on.
func (c *Cursor) Current() bsoncore.Document { return c.current }

// Err returns the last error seen by the cursor.
func (c *Cursor) Err() error { return c.err }

// Next advances the cursor to the next document, fetching more batches from
// the originating server as needed. It returns false when the cursor is
// exhausted, closed, or has errored.
func (c *Cursor) Next(ctx context.Context) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.closed || c.err != nil {
		return false
	}
	if c.limit > 0 && c.returned >= c.limit {
		c.close(ctx)
		return false
	}

	for {
		if c.pos < len(c.batch) {
			c.current = c.batch[c.pos]
			c.pos++
			c.returned++
			return true
		}

		if c.id == 0 {
			c.closed = true
			return false
		}
		if !c.getMore(ctx) {
			return false
		}
	}
}

// getMore fetches the next batch from the cursor's originating address.
func (c *Cursor) getMore(ctx context.Context) bool {
	if c.client.sessionPool == nil {
		c.err = ErrClientDestroyedBeforeCursor
		c.closed = true
		return false
	}

	op := operation.NewGetMore(c.id).
		ClusterClock(c.client.clock).
		Collection(c.collection).
		CommandMonitor(c.client.monitor).
		Database(c.db).
		Deployment(c.client.deployment).
		ServerSelector(c.client.directSelector(c.addr)).
		ServerAPI(c.client.serverAPI)

	// batch size is min(remaining limit, configured batch size).
	size := c.batchSize
	if c.limit > 0 {
		remaining := c.limit - c.returned
		if size == 0 || int64(size) > remaining {
			size = int32(remaining)
		}
	}
	if size > 0 {
		op = op.BatchSize(size)
	}

	if err := op.Execute(ctx); err != nil {
		c.err = replaceErrors(err)
		c.closed = true
		return false
	}
	res := op.Result()
	c.id = res.ID
	c.batch = res.Batch
	c.pos = 0
	return true
}

// All iterates the cursor to exhaustion, appending every raw document to
// results (no codec decoding is applied), then closes the cursor.
func (c *Cursor) All(ctx context.Context, results *[]bsoncore.Document) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer c.Close(ctx)
	for c.Next(ctx) {
		*results = append(*results, c.current)
	}
	return c.err
}

// Decode unmarshals the current document into val via the codec.
func (c *Cursor) Decode(val interface{}) error {
	return c.client.registry.DecodeOne(c.current, val)
}

// Close closes the cursor, issuing killCursors iff the server-side cursor is
// still open.
func (c *Cursor) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.close(ctx)
}

func (c *Cursor) close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.id == 0 {
		return nil
	}

	op := operation.NewKillCursors(c.id).
		ClusterClock(c.client.clock).
		Collection(c.collection).
		CommandMonitor(c.client.monitor).
		Database(c.db).
		Deployment(c.client.deployment).
		ServerSelector(c.client.directSelector(c.addr)).
		ServerAPI(c.client.serverAPI)
	err := op.Execute(ctx)
	c.id = 0
	return replaceErrors(err)
}
