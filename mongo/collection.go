package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/dbdrift/topologycore/codec"
	"github.com/dbdrift/topologycore/mongo/options"
	"github.com/dbdrift/topologycore/readconcern"
	"github.com/dbdrift/topologycore/readpref"
	"github.com/dbdrift/topologycore/writeconcern"
	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
	"github.com/dbdrift/topologycore/x/driver"
	"github.com/dbdrift/topologycore/x/driver/operation"
)

// Collection is a value-object handle to a collection. It is safe for
// concurrent use by multiple goroutines.
type Collection struct {
	client         *Client
	db             *Database
	name           string
	readConcern    *readconcern.ReadConcern
	writeConcern   *writeconcern.WriteConcern
	readPreference *readpref.ReadPref
	registry       codec.Codec
	maxTime        *time.Duration
}

func newCollection(db *Database, name string, opts ...*options.CollectionOptions) *Collection {
	coll := &Collection{
		client:         db.client,
		db:             db,
		name:           name,
		readConcern:    db.readConcern,
		writeConcern:   db.writeConcern,
		readPreference: db.readPreference,
		registry:       db.registry,
		maxTime:        db.maxTime,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if opt.ReadConcern != nil {
			coll.readConcern = opt.ReadConcern
		}
		if opt.WriteConcern != nil {
			coll.writeConcern = opt.WriteConcern
		}
		if opt.ReadPreference != nil {
			coll.readPreference = opt.ReadPreference
		}
		if opt.Codec != nil {
			coll.registry = opt.Codec
		}
		if opt.MaxTime != nil {
			coll.maxTime = opt.MaxTime
		}
	}
	return coll
}

// Name returns the name of the collection.
func (coll *Collection) Name() string { return coll.name }

// Database returns the Database the collection belongs to.
func (coll *Collection) Database() *Database { return coll.db }

// InsertOne executes an insert command to insert a single document.
func (coll *Collection) InsertOne(ctx context.Context, document interface{}) (*InsertOneResult, error) {
	res, err := coll.insert(ctx, []interface{}{document}, nil)
	if err != nil {
		return nil, err
	}
	return &InsertOneResult{InsertedID: res.InsertedIDs[0]}, nil
}

// InsertMany executes an insert command to insert multiple documents.
func (coll *Collection) InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*InsertManyResult, error) {
	if len(documents) == 0 {
		return nil, ErrEmptySlice
	}
	var ordered *bool
	for _, opt := range opts {
		if opt != nil && opt.Ordered != nil {
			ordered = opt.Ordered
		}
	}
	return coll.insert(ctx, documents, ordered)
}

func (coll *Collection) insert(ctx context.Context, documents []interface{}, ordered *bool) (*InsertManyResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	docs := make([]bsoncore.Document, len(documents))
	ids := make([]interface{}, len(documents))
	for i, v := range documents {
		doc, err := marshal(v, coll.registry)
		if err != nil {
			return nil, err
		}
		doc, id := ensureID(doc)
		docs[i] = doc
		ids[i] = id
	}

	op := operation.NewInsert(docs...).
		ClusterClock(coll.client.clock).
		Collection(coll.name).
		CommandMonitor(coll.client.monitor).
		Database(coll.db.name).
		Deployment(coll.client.deployment).
		ServerSelector(coll.client.writeSelector()).
		WriteConcern(coll.writeConcern).
		Retry(coll.client.retryWriteMode()).
		ServerAPI(coll.client.serverAPI)
	if ordered != nil {
		op = op.Ordered(*ordered)
	}

	err := op.Execute(ctx)
	result := op.Result()
	imResult := &InsertManyResult{InsertedIDs: ids}
	if wex := writeExceptionFromInsert(result, err); wex != nil {
		return imResult, wex
	}
	return imResult, replaceErrors(err)
}

// UpdateOne updates a single document in the collection.
func (coll *Collection) UpdateOne(ctx context.Context, filter, update interface{}, opts ...*options.UpdateOptions) (*UpdateResult, error) {
	return coll.update(ctx, filter, update, false, true, opts...)
}

// UpdateMany updates multiple documents in the collection. update_many is
// explicitly non-retryable.
func (coll *Collection) UpdateMany(ctx context.Context, filter, update interface{}, opts ...*options.UpdateOptions) (*UpdateResult, error) {
	return coll.update(ctx, filter, update, true, false, opts...)
}

// ReplaceOne replaces a single document in the collection.
func (coll *Collection) ReplaceOne(ctx context.Context, filter, replacement interface{}, opts ...*options.UpdateOptions) (*UpdateResult, error) {
	return coll.update(ctx, filter, replacement, false, true, opts...)
}

func (coll *Collection) update(ctx context.Context, filter, update interface{}, multi, retryable bool, opts ...*options.UpdateOptions) (*UpdateResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	filterDoc, err := marshal(filter, coll.registry)
	if err != nil {
		return nil, err
	}
	updateDoc, err := marshal(update, coll.registry)
	if err != nil {
		return nil, err
	}

	var upsert *bool
	for _, opt := range opts {
		if opt != nil && opt.Upsert != nil {
			upsert = opt.Upsert
		}
	}

	stmt := bsoncore.AppendDocumentElement(nil, "q", filterDoc)
	stmt = bsoncore.AppendDocumentElement(stmt, "u", updateDoc)
	if multi {
		stmt = bsoncore.AppendBooleanElement(stmt, "multi", true)
	}
	if upsert != nil {
		stmt = bsoncore.AppendBooleanElement(stmt, "upsert", *upsert)
	}
	stmtDoc := bsoncore.BuildDocument(nil, stmt)

	op := operation.NewUpdate(stmtDoc).
		ClusterClock(coll.client.clock).
		Collection(coll.name).
		CommandMonitor(coll.client.monitor).
		Database(coll.db.name).
		Deployment(coll.client.deployment).
		ServerSelector(coll.client.writeSelector()).
		WriteConcern(coll.writeConcern).
		ServerAPI(coll.client.serverAPI)
	if retryable {
		op = op.Retry(coll.client.retryWriteMode())
	}

	err = op.Execute(ctx)
	opRes := op.Result()
	res := &UpdateResult{
		MatchedCount:  int64(opRes.N),
		ModifiedCount: int64(opRes.NModified),
	}
	if len(opRes.Upserted) > 0 {
		res.MatchedCount -= int64(len(opRes.Upserted))
		res.UpsertedCount = int64(len(opRes.Upserted))
		res.UpsertedID = opRes.Upserted[0].ID
	}
	if wex := writeExceptionFromErrors(opRes.WriteErrors, opRes.WriteConcernError, err); wex != nil {
		return res, wex
	}
	return res, replaceErrors(err)
}

// DeleteOne executes a delete command to delete at most one document.
func (coll *Collection) DeleteOne(ctx context.Context, filter interface{}) (*DeleteResult, error) {
	return coll.delete(ctx, filter, 1, true)
}

// DeleteMany executes a delete command to delete all matching documents.
// delete_many is explicitly non-retryable.
func (coll *Collection) DeleteMany(ctx context.Context, filter interface{}) (*DeleteResult, error) {
	return coll.delete(ctx, filter, 0, false)
}

func (coll *Collection) delete(ctx context.Context, filter interface{}, limit int32, retryable bool) (*DeleteResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	filterDoc, err := marshal(filter, coll.registry)
	if err != nil {
		return nil, err
	}

	stmt := bsoncore.AppendDocumentElement(nil, "q", filterDoc)
	stmt = bsoncore.AppendInt32Element(stmt, "limit", limit)
	stmtDoc := bsoncore.BuildDocument(nil, stmt)

	op := operation.NewDelete(stmtDoc).
		ClusterClock(coll.client.clock).
		Collection(coll.name).
		CommandMonitor(coll.client.monitor).
		Database(coll.db.name).
		Deployment(coll.client.deployment).
		ServerSelector(coll.client.writeSelector()).
		WriteConcern(coll.writeConcern).
		ServerAPI(coll.client.serverAPI)
	if retryable {
		op = op.Retry(coll.client.retryWriteMode())
	}

	err = op.Execute(ctx)
	opRes := op.Result()
	res := &DeleteResult{DeletedCount: int64(opRes.N)}
	if wex := writeExceptionFromErrors(opRes.WriteErrors, opRes.WriteConcernError, err); wex != nil {
		return res, wex
	}
	return res, replaceErrors(err)
}

// Find executes a find command and returns a Cursor over the matching
// documents.
func (coll *Collection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*Cursor, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	filterDoc, err := marshal(filter, coll.registry)
	if err != nil {
		return nil, err
	}

	fo := options.Find()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if opt.BatchSize != nil {
			fo.BatchSize = opt.BatchSize
		}
		if opt.Limit != nil {
			fo.Limit = opt.Limit
		}
		if opt.Skip != nil {
			fo.Skip = opt.Skip
		}
		if opt.Sort != nil {
			fo.Sort = opt.Sort
		}
		if opt.Projection != nil {
			fo.Projection = opt.Projection
		}
		if opt.MaxTime != nil {
			fo.MaxTime = opt.MaxTime
		}
	}

	op := operation.NewFind(filterDoc).
		ClusterClock(coll.client.clock).
		Collection(coll.name).
		CommandMonitor(coll.client.monitor).
		Database(coll.db.name).
		Deployment(coll.client.deployment).
		ReadConcern(coll.readConcern).
		ReadPreference(coll.readPreference).
		ServerSelector(coll.client.readSelector(coll.readPreference)).
		Retry(coll.client.retryReadMode()).
		ServerAPI(coll.client.serverAPI)

	if fo.BatchSize != nil {
		op = op.BatchSize(*fo.BatchSize)
	}
	if fo.Limit != nil {
		op = op.Limit(*fo.Limit)
	}
	if fo.Skip != nil {
		op = op.Skip(*fo.Skip)
	}
	if fo.Sort != nil {
		sortDoc, err := marshal(fo.Sort, coll.registry)
		if err != nil {
			return nil, err
		}
		op = op.Sort(sortDoc)
	}
	if fo.Projection != nil {
		projDoc, err := marshal(fo.Projection, coll.registry)
		if err != nil {
			return nil, err
		}
		op = op.Projection(projDoc)
	}
	mt := fo.MaxTime
	if mt == nil {
		mt = coll.maxTime
	}
	if ms := maxTimeMSFromDuration(mt); ms != nil {
		op = op.MaxTimeMS(*ms)
	}

	if err := op.Execute(ctx); err != nil {
		return nil, replaceErrors(err)
	}

	var limit int64
	if fo.Limit != nil {
		limit = *fo.Limit
	}
	var batchSize int32
	if fo.BatchSize != nil {
		batchSize = *fo.BatchSize
	}
	return newCursor(coll, op.Result(), limit, batchSize), nil
}

// FindOne executes a find command with a limit of 1 and returns a
// SingleResult over the matching document.
func (coll *Collection) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOptions) *SingleResult {
	findOpts := append([]*options.FindOptions{}, opts...)
	findOpts = append(findOpts, options.Find().SetLimit(1))
	cursor, err := coll.Find(ctx, filter, findOpts...)
	if err != nil {
		return &SingleResult{err: err, registry: coll.registry}
	}
	defer cursor.Close(ctx)
	if !cursor.Next(ctx) {
		if cursor.Err() != nil {
			return &SingleResult{err: cursor.Err(), registry: coll.registry}
		}
		return &SingleResult{err: ErrNoDocuments, registry: coll.registry}
	}
	return &SingleResult{doc: cursor.Current(), registry: coll.registry}
}

// CountDocuments returns the number of documents matching the filter.
func (coll *Collection) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	filterDoc, err := marshal(filter, coll.registry)
	if err != nil {
		return 0, err
	}

	op := operation.NewCount().
		Query(filterDoc).
		ClusterClock(coll.client.clock).
		Collection(coll.name).
		CommandMonitor(coll.client.monitor).
		Database(coll.db.name).
		Deployment(coll.client.deployment).
		ReadConcern(coll.readConcern).
		ReadPreference(coll.readPreference).
		ServerSelector(coll.client.readSelector(coll.readPreference)).
		Retry(coll.client.retryReadMode()).
		ServerAPI(coll.client.serverAPI)
	for _, opt := range opts {
		if opt != nil && opt.MaxTime != nil {
			if ms := maxTimeMSFromDuration(opt.MaxTime); ms != nil {
				op = op.MaxTimeMS(*ms)
			}
		}
	}

	if err := op.Execute(ctx); err != nil {
		return 0, replaceErrors(err)
	}
	return op.Result().N, nil
}

// Distinct returns the distinct values of the given field across matching
// documents.
func (coll *Collection) Distinct(ctx context.Context, fieldName string, filter interface{}, opts ...*options.DistinctOptions) ([]interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	filterDoc, err := marshal(filter, coll.registry)
	if err != nil {
		return nil, err
	}

	op := operation.NewDistinct(fieldName, filterDoc).
		ClusterClock(coll.client.clock).
		Collection(coll.name).
		CommandMonitor(coll.client.monitor).
		Database(coll.db.name).
		Deployment(coll.client.deployment).
		ReadConcern(coll.readConcern).
		ReadPreference(coll.readPreference).
		ServerSelector(coll.client.readSelector(coll.readPreference)).
		Retry(coll.client.retryReadMode()).
		ServerAPI(coll.client.serverAPI)
	for _, opt := range opts {
		if opt != nil && opt.MaxTime != nil {
			if ms := maxTimeMSFromDuration(opt.MaxTime); ms != nil {
				op = op.MaxTimeMS(*ms)
			}
		}
	}

	if err := op.Execute(ctx); err != nil {
		return nil, replaceErrors(err)
	}

	arr := op.Result().Values.Array()
	if arr == nil {
		return nil, nil
	}
	elems, err := arr.Elements()
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, 0, len(elems))
	for _, e := range elems {
		out = append(out, e.Value())
	}
	return out, nil
}

// Indexes returns an IndexView for this collection.
func (coll *Collection) Indexes() IndexView { return IndexView{coll: coll} }

// writeExceptionFromInsert converts per-document insert errors into a
// WriteException; a nil return means no write-level failure occurred.
func writeExceptionFromInsert(result operation.InsertResult, execErr error) error {
	return writeExceptionFromErrors(result.WriteErrors, result.WriteConcernError, execErr)
}

func writeExceptionFromErrors(writeErrors []driver.WriteError, wce *driver.WriteConcernError, execErr error) error {
	if len(writeErrors) == 0 && wce == nil {
		return nil
	}
	wex := WriteException{}
	for _, we := range writeErrors {
		wex.WriteErrors = append(wex.WriteErrors, WriteError{
			Index:   we.Index,
			Code:    int(we.Code),
			Message: we.Message,
		})
	}
	if wce != nil {
		wex.WriteConcernError = &WriteConcernError{
			Code:    int(wce.Code),
			Message: wce.Message,
		}
	}
	var de driver.Error
	if errors.As(execErr, &de) {
		wex.Labels = de.Labels
	}
	return wex
}
