package options

import (
	"time"

	"github.com/dbdrift/topologycore/codec"
	"github.com/dbdrift/topologycore/readconcern"
	"github.com/dbdrift/topologycore/readpref"
	"github.com/dbdrift/topologycore/writeconcern"
)

// DatabaseOptions represents options for a Database handle; each field
// overrides the client-level value when set.
type DatabaseOptions struct {
	ReadConcern    *readconcern.ReadConcern
	WriteConcern   *writeconcern.WriteConcern
	ReadPreference *readpref.ReadPref
	Codec          codec.Codec
	MaxTime        *time.Duration
}

// Database creates a new DatabaseOptions instance.
func Database() *DatabaseOptions { return new(DatabaseOptions) }

// SetReadConcern sets the read concern.
func (d *DatabaseOptions) SetReadConcern(rc *readconcern.ReadConcern) *DatabaseOptions {
	d.ReadConcern = rc
	return d
}

// SetWriteConcern sets the write concern.
func (d *DatabaseOptions) SetWriteConcern(wc *writeconcern.WriteConcern) *DatabaseOptions {
	d.WriteConcern = wc
	return d
}

// SetReadPreference sets the read preference.
func (d *DatabaseOptions) SetReadPreference(rp *readpref.ReadPref) *DatabaseOptions {
	d.ReadPreference = rp
	return d
}

// SetCodec sets the document codec.
func (d *DatabaseOptions) SetCodec(c codec.Codec) *DatabaseOptions {
	d.Codec = c
	return d
}

// SetMaxTime sets the default per-operation time budget.
func (d *DatabaseOptions) SetMaxTime(mt time.Duration) *DatabaseOptions {
	d.MaxTime = &mt
	return d
}

// CollectionOptions represents options for a Collection handle.
type CollectionOptions struct {
	ReadConcern    *readconcern.ReadConcern
	WriteConcern   *writeconcern.WriteConcern
	ReadPreference *readpref.ReadPref
	Codec          codec.Codec
	MaxTime        *time.Duration
}

// Collection creates a new CollectionOptions instance.
func Collection() *CollectionOptions { return new(CollectionOptions) }

// SetReadConcern sets the read concern.
func (c *CollectionOptions) SetReadConcern(rc *readconcern.ReadConcern) *CollectionOptions {
	c.ReadConcern = rc
	return c
}

// SetWriteConcern sets the write concern.
func (c *CollectionOptions) SetWriteConcern(wc *writeconcern.WriteConcern) *CollectionOptions {
	c.WriteConcern = wc
	return c
}

// SetReadPreference sets the read preference.
func (c *CollectionOptions) SetReadPreference(rp *readpref.ReadPref) *CollectionOptions {
	c.ReadPreference = rp
	return c
}

// SetCodec sets the document codec.
func (c *CollectionOptions) SetCodec(cdc codec.Codec) *CollectionOptions {
	c.Codec = cdc
	return c
}

// SetMaxTime sets the default per-operation time budget.
func (c *CollectionOptions) SetMaxTime(mt time.Duration) *CollectionOptions {
	c.MaxTime = &mt
	return c
}

// FindOptions represents options for a Find operation.
type FindOptions struct {
	BatchSize  *int32
	Limit      *int64
	Skip       *int64
	Sort       interface{}
	Projection interface{}
	MaxTime    *time.Duration
}

// Find creates a new FindOptions instance.
func Find() *FindOptions { return new(FindOptions) }

// SetBatchSize sets the number of documents fetched per getMore.
func (f *FindOptions) SetBatchSize(i int32) *FindOptions { f.BatchSize = &i; return f }

// SetLimit sets the maximum number of documents the cursor yields.
func (f *FindOptions) SetLimit(i int64) *FindOptions { f.Limit = &i; return f }

// SetSkip sets the number of documents to skip.
func (f *FindOptions) SetSkip(i int64) *FindOptions { f.Skip = &i; return f }

// SetSort sets the sort specification.
func (f *FindOptions) SetSort(sort interface{}) *FindOptions { f.Sort = sort; return f }

// SetProjection sets the projection specification.
func (f *FindOptions) SetProjection(projection interface{}) *FindOptions {
	f.Projection = projection
	return f
}

// SetMaxTime sets the server-side execution budget.
func (f *FindOptions) SetMaxTime(d time.Duration) *FindOptions { f.MaxTime = &d; return f }

// InsertManyOptions represents options for an InsertMany operation.
type InsertManyOptions struct {
	Ordered *bool
}

// InsertMany creates a new InsertManyOptions instance.
func InsertMany() *InsertManyOptions { return new(InsertManyOptions) }

// SetOrdered sets whether a write failure aborts the remaining inserts.
func (i *InsertManyOptions) SetOrdered(b bool) *InsertManyOptions { i.Ordered = &b; return i }

// UpdateOptions represents options for update operations.
type UpdateOptions struct {
	Upsert *bool
}

// Update creates a new UpdateOptions instance.
func Update() *UpdateOptions { return new(UpdateOptions) }

// SetUpsert sets whether a matching document is created when none exists.
func (u *UpdateOptions) SetUpsert(b bool) *UpdateOptions { u.Upsert = &b; return u }

// CountOptions represents options for a CountDocuments operation.
type CountOptions struct {
	MaxTime *time.Duration
}

// Count creates a new CountOptions instance.
func Count() *CountOptions { return new(CountOptions) }

// SetMaxTime sets the server-side execution budget.
func (c *CountOptions) SetMaxTime(d time.Duration) *CountOptions { c.MaxTime = &d; return c }

// DistinctOptions represents options for a Distinct operation.
type DistinctOptions struct {
	MaxTime *time.Duration
}

// Distinct creates a new DistinctOptions instance.
func Distinct() *DistinctOptions { return new(DistinctOptions) }

// SetMaxTime sets the server-side execution budget.
func (d *DistinctOptions) SetMaxTime(mt time.Duration) *DistinctOptions { d.MaxTime = &mt; return d }

// BulkWriteOptions represents options for a BulkWrite operation.
type BulkWriteOptions struct {
	Ordered *bool
}

// BulkWrite creates a new BulkWriteOptions instance with Ordered defaulted
// to true, matching the server's default.
func BulkWrite() *BulkWriteOptions {
	ordered := true
	return &BulkWriteOptions{Ordered: &ordered}
}

// SetOrdered sets whether batches run in order, stopping at the first error.
func (b *BulkWriteOptions) SetOrdered(ordered bool) *BulkWriteOptions {
	b.Ordered = &ordered
	return b
}

// RunCmdOptions represents options for RunCommand.
type RunCmdOptions struct {
	ReadPreference *readpref.ReadPref
}

// RunCmd creates a new RunCmdOptions instance.
func RunCmd() *RunCmdOptions { return new(RunCmdOptions) }

// SetReadPreference sets the read preference used to select the target server.
func (r *RunCmdOptions) SetReadPreference(rp *readpref.ReadPref) *RunCmdOptions {
	r.ReadPreference = rp
	return r
}
