package mongo

// InsertOneResult is the result type returned by an InsertOne operation.
type InsertOneResult struct {
	// The _id of the inserted document.
	InsertedID interface{}
}

// InsertManyResult is a result type returned by an InsertMany operation.
type InsertManyResult struct {
	// The _id values of the inserted documents, in the order submitted.
	InsertedIDs []interface{}
}

// UpdateResult is the result type returned from UpdateOne, UpdateMany, and
// ReplaceOne operations.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
	UpsertedCount int64
	UpsertedID    interface{}
}

// DeleteResult is the result type returned by DeleteOne and DeleteMany
// operations.
type DeleteResult struct {
	DeletedCount int64
}

// BulkWriteResult is the result type returned by a BulkWrite operation.
type BulkWriteResult struct {
	InsertedCount int64
	MatchedCount  int64
	ModifiedCount int64
	DeletedCount  int64
	UpsertedCount int64
	UpsertedIDs   map[int64]interface{}
	// ModifiedCountKnown is false when a legacy server in the path cannot
	// report nModified.
	ModifiedCountKnown bool
}
