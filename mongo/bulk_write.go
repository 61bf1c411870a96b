package mongo

import (
	"context"
	"errors"

	"github.com/dbdrift/topologycore/mongo/options"
	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
	"github.com/dbdrift/topologycore/x/driver"
	"github.com/dbdrift/topologycore/x/driver/operation"
)

// WriteModel is the interface satisfied by models that can be used in a
// BulkWrite.
type WriteModel interface {
	writeModel()
}

// InsertOneModel is used to insert a single document in a BulkWrite.
type InsertOneModel struct {
	Document interface{}
}

// NewInsertOneModel creates a new InsertOneModel.
func NewInsertOneModel() *InsertOneModel { return new(InsertOneModel) }

// SetDocument specifies the document to insert.
func (iom *InsertOneModel) SetDocument(doc interface{}) *InsertOneModel {
	iom.Document = doc
	return iom
}

func (*InsertOneModel) writeModel() {}

// UpdateOneModel is used to update at most one document in a BulkWrite.
type UpdateOneModel struct {
	Filter interface{}
	Update interface{}
	Upsert *bool
}

// NewUpdateOneModel creates a new UpdateOneModel.
func NewUpdateOneModel() *UpdateOneModel { return new(UpdateOneModel) }

// SetFilter specifies the selection filter.
func (uom *UpdateOneModel) SetFilter(filter interface{}) *UpdateOneModel {
	uom.Filter = filter
	return uom
}

// SetUpdate specifies the modifications to apply.
func (uom *UpdateOneModel) SetUpdate(update interface{}) *UpdateOneModel {
	uom.Update = update
	return uom
}

// SetUpsert specifies whether a new document is inserted when none matches.
func (uom *UpdateOneModel) SetUpsert(upsert bool) *UpdateOneModel {
	uom.Upsert = &upsert
	return uom
}

func (*UpdateOneModel) writeModel() {}

// UpdateManyModel is used to update multiple documents in a BulkWrite.
type UpdateManyModel struct {
	Filter interface{}
	Update interface{}
	Upsert *bool
}

// NewUpdateManyModel creates a new UpdateManyModel.
func NewUpdateManyModel() *UpdateManyModel { return new(UpdateManyModel) }

// SetFilter specifies the selection filter.
func (umm *UpdateManyModel) SetFilter(filter interface{}) *UpdateManyModel {
	umm.Filter = filter
	return umm
}

// SetUpdate specifies the modifications to apply.
func (umm *UpdateManyModel) SetUpdate(update interface{}) *UpdateManyModel {
	umm.Update = update
	return umm
}

// SetUpsert specifies whether a new document is inserted when none matches.
func (umm *UpdateManyModel) SetUpsert(upsert bool) *UpdateManyModel {
	umm.Upsert = &upsert
	return umm
}

func (*UpdateManyModel) writeModel() {}

// ReplaceOneModel is used to replace at most one document in a BulkWrite.
type ReplaceOneModel struct {
	Filter      interface{}
	Replacement interface{}
	Upsert      *bool
}

// NewReplaceOneModel creates a new ReplaceOneModel.
func NewReplaceOneModel() *ReplaceOneModel { return new(ReplaceOneModel) }

// SetFilter specifies the selection filter.
func (rom *ReplaceOneModel) SetFilter(filter interface{}) *ReplaceOneModel {
	rom.Filter = filter
	return rom
}

// SetReplacement specifies the replacement document.
func (rom *ReplaceOneModel) SetReplacement(rep interface{}) *ReplaceOneModel {
	rom.Replacement = rep
	return rom
}

// SetUpsert specifies whether a new document is inserted when none matches.
func (rom *ReplaceOneModel) SetUpsert(upsert bool) *ReplaceOneModel {
	rom.Upsert = &upsert
	return rom
}

func (*ReplaceOneModel) writeModel() {}

// DeleteOneModel is used to delete at most one document in a BulkWrite.
type DeleteOneModel struct {
	Filter interface{}
}

// NewDeleteOneModel creates a new DeleteOneModel.
func NewDeleteOneModel() *DeleteOneModel { return new(DeleteOneModel) }

// SetFilter specifies the selection filter.
func (dom *DeleteOneModel) SetFilter(filter interface{}) *DeleteOneModel {
	dom.Filter = filter
	return dom
}

func (*DeleteOneModel) writeModel() {}

// DeleteManyModel is used to delete multiple documents in a BulkWrite.
type DeleteManyModel struct {
	Filter interface{}
}

// NewDeleteManyModel creates a new DeleteManyModel.
func NewDeleteManyModel() *DeleteManyModel { return new(DeleteManyModel) }

// SetFilter specifies the selection filter.
func (dmm *DeleteManyModel) SetFilter(filter interface{}) *DeleteManyModel {
	dmm.Filter = filter
	return dmm
}

func (*DeleteManyModel) writeModel() {}

// bulkWriteBatch is one server command's worth of same-typed sub-operations,
// remembering each model's position in the original request.
type bulkWriteBatch struct {
	models  []WriteModel
	indexes []int
}

func (b bulkWriteBatch) kind() byte {
	switch b.models[0].(type) {
	case *InsertOneModel:
		return 'i'
	case *DeleteOneModel, *DeleteManyModel:
		return 'd'
	default:
		return 'u'
	}
}

func modelKind(m WriteModel) byte {
	switch m.(type) {
	case *InsertOneModel:
		return 'i'
	case *DeleteOneModel, *DeleteManyModel:
		return 'd'
	default:
		return 'u'
	}
}

// createBatches groups the models into batches: ordered bulks coalesce
// runs of identical sub-operation type (a type change forces a new batch);
// unordered bulks group by type. Both chunk to at most maxBatchSize models.
func createBatches(models []WriteModel, ordered bool, maxBatchSize int) []bulkWriteBatch {
	if maxBatchSize <= 0 {
		maxBatchSize = 100000
	}
	var batches []bulkWriteBatch

	if ordered {
		var cur bulkWriteBatch
		for i, m := range models {
			if len(cur.models) > 0 && (modelKind(m) != cur.kind() || len(cur.models) >= maxBatchSize) {
				batches = append(batches, cur)
				cur = bulkWriteBatch{}
			}
			cur.models = append(cur.models, m)
			cur.indexes = append(cur.indexes, i)
		}
		if len(cur.models) > 0 {
			batches = append(batches, cur)
		}
		return batches
	}

	grouped := map[byte]*bulkWriteBatch{}
	var order []byte
	for i, m := range models {
		k := modelKind(m)
		g, ok := grouped[k]
		if !ok {
			grouped[k] = &bulkWriteBatch{}
			g = grouped[k]
			order = append(order, k)
		}
		g.models = append(g.models, m)
		g.indexes = append(g.indexes, i)
	}
	for _, k := range order {
		g := grouped[k]
		for len(g.models) > maxBatchSize {
			batches = append(batches, bulkWriteBatch{models: g.models[:maxBatchSize], indexes: g.indexes[:maxBatchSize]})
			g.models = g.models[maxBatchSize:]
			g.indexes = g.indexes[maxBatchSize:]
		}
		batches = append(batches, *g)
	}
	return batches
}

// BulkWrite performs the given write models in bulk. A no-op
// bulk returns an empty result without touching any link.
func (coll *Collection) BulkWrite(ctx context.Context, models []WriteModel, opts ...*options.BulkWriteOptions) (*BulkWriteResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(models) == 0 {
		return &BulkWriteResult{UpsertedIDs: map[int64]interface{}{}, ModifiedCountKnown: true}, nil
	}

	bwo := options.BulkWrite()
	for _, opt := range opts {
		if opt != nil && opt.Ordered != nil {
			bwo.Ordered = opt.Ordered
		}
	}
	ordered := *bwo.Ordered

	result := &BulkWriteResult{UpsertedIDs: map[int64]interface{}{}, ModifiedCountKnown: true}
	var writeErrors []BulkWriteError
	var wcErr *WriteConcernError

	batches := createBatches(models, ordered, 0)
	for _, batch := range batches {
		batchErrs, batchWCErr, err := coll.runBulkBatch(ctx, batch, ordered, result)
		writeErrors = append(writeErrors, batchErrs...)
		if batchWCErr != nil {
			wcErr = batchWCErr
		}
		if err != nil {
			return result, replaceErrors(err)
		}
		if ordered && len(writeErrors) > 0 {
			break // ordered bulks short-circuit on the first write error
		}
	}

	if len(writeErrors) > 0 || wcErr != nil {
		return result, BulkWriteException{WriteConcernError: wcErr, WriteErrors: writeErrors}
	}
	return result, nil
}

func (coll *Collection) runBulkBatch(ctx context.Context, batch bulkWriteBatch, ordered bool, result *BulkWriteResult) ([]BulkWriteError, *WriteConcernError, error) {
	switch batch.kind() {
	case 'i':
		return coll.runBulkInsert(ctx, batch, ordered, result)
	case 'u':
		return coll.runBulkUpdate(ctx, batch, ordered, result)
	default:
		return coll.runBulkDelete(ctx, batch, ordered, result)
	}
}

func (coll *Collection) runBulkInsert(ctx context.Context, batch bulkWriteBatch, ordered bool, result *BulkWriteResult) ([]BulkWriteError, *WriteConcernError, error) {
	docs := make([]bsoncore.Document, len(batch.models))
	for i, m := range batch.models {
		iom := m.(*InsertOneModel)
		doc, err := marshal(iom.Document, coll.registry)
		if err != nil {
			return nil, nil, err
		}
		doc, _ = ensureID(doc)
		docs[i] = doc
	}

	op := operation.NewInsert(docs...).
		Ordered(ordered).
		ClusterClock(coll.client.clock).
		Collection(coll.name).
		CommandMonitor(coll.client.monitor).
		Database(coll.db.name).
		Deployment(coll.client.deployment).
		ServerSelector(coll.client.writeSelector()).
		WriteConcern(coll.writeConcern).
		Retry(coll.client.retryWriteMode()).
		ServerAPI(coll.client.serverAPI)

	err := op.Execute(ctx)
	res := op.Result()
	result.InsertedCount += int64(res.N)
	return tagBatchErrors(res.WriteErrors, batch), convertWCError(res.WriteConcernError), ignoreWriteErrs(err)
}

func (coll *Collection) runBulkUpdate(ctx context.Context, batch bulkWriteBatch, ordered bool, result *BulkWriteResult) ([]BulkWriteError, *WriteConcernError, error) {
	stmts := make([]bsoncore.Document, len(batch.models))
	retryable := true
	for i, m := range batch.models {
		var filter, update interface{}
		var upsert *bool
		multi := false
		switch um := m.(type) {
		case *UpdateOneModel:
			filter, update, upsert = um.Filter, um.Update, um.Upsert
		case *UpdateManyModel:
			filter, update, upsert = um.Filter, um.Update, um.Upsert
			multi = true
			retryable = false
		case *ReplaceOneModel:
			filter, update, upsert = um.Filter, um.Replacement, um.Upsert
		}
		filterDoc, err := marshal(filter, coll.registry)
		if err != nil {
			return nil, nil, err
		}
		updateDoc, err := marshal(update, coll.registry)
		if err != nil {
			return nil, nil, err
		}
		stmt := bsoncore.AppendDocumentElement(nil, "q", filterDoc)
		stmt = bsoncore.AppendDocumentElement(stmt, "u", updateDoc)
		if multi {
			stmt = bsoncore.AppendBooleanElement(stmt, "multi", true)
		}
		if upsert != nil {
			stmt = bsoncore.AppendBooleanElement(stmt, "upsert", *upsert)
		}
		stmts[i] = bsoncore.BuildDocument(nil, stmt)
	}

	op := operation.NewUpdate(stmts...).
		Ordered(ordered).
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

	err := op.Execute(ctx)
	res := op.Result()
	result.MatchedCount += int64(res.N) - int64(len(res.Upserted))
	result.ModifiedCount += int64(res.NModified)
	result.UpsertedCount += int64(len(res.Upserted))
	for _, up := range res.Upserted {
		if int(up.Index) < len(batch.indexes) {
			result.UpsertedIDs[int64(batch.indexes[up.Index])] = up.ID
		}
	}
	return tagBatchErrors(res.WriteErrors, batch), convertWCError(res.WriteConcernError), ignoreWriteErrs(err)
}

func (coll *Collection) runBulkDelete(ctx context.Context, batch bulkWriteBatch, ordered bool, result *BulkWriteResult) ([]BulkWriteError, *WriteConcernError, error) {
	stmts := make([]bsoncore.Document, len(batch.models))
	retryable := true
	for i, m := range batch.models {
		var filter interface{}
		limit := int32(1)
		switch dm := m.(type) {
		case *DeleteOneModel:
			filter = dm.Filter
		case *DeleteManyModel:
			filter = dm.Filter
			limit = 0
			retryable = false
		}
		filterDoc, err := marshal(filter, coll.registry)
		if err != nil {
			return nil, nil, err
		}
		stmt := bsoncore.AppendDocumentElement(nil, "q", filterDoc)
		stmt = bsoncore.AppendInt32Element(stmt, "limit", limit)
		stmts[i] = bsoncore.BuildDocument(nil, stmt)
	}

	op := operation.NewDelete(stmts...).
		Ordered(ordered).
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

	err := op.Execute(ctx)
	res := op.Result()
	result.DeletedCount += int64(res.N)
	return tagBatchErrors(res.WriteErrors, batch), convertWCError(res.WriteConcernError), ignoreWriteErrs(err)
}

// tagBatchErrors maps batch-relative write error indices back to the
// position of the originating model in the user's request and attaches the
// model itself.
func tagBatchErrors(errs []driver.WriteError, batch bulkWriteBatch) []BulkWriteError {
	var out []BulkWriteError
	for _, we := range errs {
		idx := we.Index
		var request WriteModel
		if idx < len(batch.indexes) {
			request = batch.models[idx]
			idx = batch.indexes[idx]
		}
		out = append(out, BulkWriteError{
			WriteError: WriteError{Index: idx, Code: int(we.Code), Message: we.Message},
			Request:    request,
		})
	}
	return out
}

func convertWCError(wce *driver.WriteConcernError) *WriteConcernError {
	if wce == nil {
		return nil
	}
	return &WriteConcernError{Code: int(wce.Code), Message: wce.Message}
}

// ignoreWriteErrs suppresses command-level errors that only reflect
// per-document write failures already captured in the result; genuine
// transport/selection errors pass through.
func ignoreWriteErrs(err error) error {
	if err == nil {
		return nil
	}
	var de driver.Error
	if errors.As(err, &de) && de.Code == 0 {
		return nil
	}
	return err
}
