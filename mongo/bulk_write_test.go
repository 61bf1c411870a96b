package mongo

import (
	"testing"

	"github.com/dbdrift/topologycore/bson"
	"github.com/dbdrift/topologycore/x/driver"
)

func insertModel(x int) WriteModel {
	return NewInsertOneModel().SetDocument(bson.D{{Key: "x", Value: x}})
}

func updateModel() WriteModel {
	return NewUpdateOneModel().
		SetFilter(bson.D{{Key: "x", Value: 1}}).
		SetUpdate(bson.D{{Key: "$set", Value: bson.D{{Key: "y", Value: 2}}}})
}

func deleteModel() WriteModel {
	return NewDeleteOneModel().SetFilter(bson.D{{Key: "x", Value: 1}})
}

func totalModels(batches []bulkWriteBatch) int {
	n := 0
	for _, b := range batches {
		n += len(b.models)
	}
	return n
}

// Ordered bulks coalesce runs of identical sub-operation type; a type change
// forces a new batch.
func TestCreateBatchesOrderedCoalescesRuns(t *testing.T) {
	models := []WriteModel{
		insertModel(1), insertModel(2), // run of inserts
		updateModel(),                  // type change
		insertModel(3),                 // type change back
		deleteModel(), deleteModel(),   // run of deletes
	}
	batches := createBatches(models, true, 0)

	wantKinds := []byte{'i', 'u', 'i', 'd'}
	if len(batches) != len(wantKinds) {
		t.Fatalf("want %d batches, got %d", len(wantKinds), len(batches))
	}
	for i, b := range batches {
		if b.kind() != wantKinds[i] {
			t.Errorf("batch %d: want kind %c, got %c", i, wantKinds[i], b.kind())
		}
	}
	if totalModels(batches) != len(models) {
		t.Errorf("models lost in batching: want %d, got %d", len(models), totalModels(batches))
	}

	// Original positions must be preserved for error tagging.
	if batches[1].indexes[0] != 2 {
		t.Errorf("update batch index: want 2, got %d", batches[1].indexes[0])
	}
	if batches[3].indexes[1] != 5 {
		t.Errorf("last delete index: want 5, got %d", batches[3].indexes[1])
	}
}

// Unordered bulks group by type regardless of interleaving.
func TestCreateBatchesUnorderedGroupsByType(t *testing.T) {
	models := []WriteModel{
		insertModel(1), updateModel(), insertModel(2), deleteModel(), insertModel(3),
	}
	batches := createBatches(models, false, 0)

	if len(batches) != 3 {
		t.Fatalf("want 3 batches (one per type), got %d", len(batches))
	}
	byKind := map[byte]int{}
	for _, b := range batches {
		byKind[b.kind()] += len(b.models)
	}
	if byKind['i'] != 3 || byKind['u'] != 1 || byKind['d'] != 1 {
		t.Errorf("grouping mismatch: %v", byKind)
	}
	if totalModels(batches) != len(models) {
		t.Errorf("models lost in batching: want %d, got %d", len(models), totalModels(batches))
	}
}

// 1200 same-typed models with a batch limit of 1000 split into batches of
// 1000 and 200.
func TestCreateBatchesChunksAtLimit(t *testing.T) {
	models := make([]WriteModel, 1200)
	for i := range models {
		models[i] = insertModel(i)
	}

	for _, ordered := range []bool{true, false} {
		batches := createBatches(models, ordered, 1000)
		if len(batches) != 2 {
			t.Fatalf("ordered=%v: want 2 batches, got %d", ordered, len(batches))
		}
		if len(batches[0].models) != 1000 || len(batches[1].models) != 200 {
			t.Errorf("ordered=%v: batch sizes %d/%d, want 1000/200",
				ordered, len(batches[0].models), len(batches[1].models))
		}
		if totalModels(batches) != 1200 {
			t.Errorf("ordered=%v: models lost", ordered)
		}
	}
}

func TestCreateBatchesEmpty(t *testing.T) {
	if got := createBatches(nil, true, 0); len(got) != 0 {
		t.Errorf("empty input should produce no batches, got %d", len(got))
	}
}

// Write error indexes are mapped from batch-relative positions back to the
// caller's original model order.
func TestTagBatchErrors(t *testing.T) {
	models := []WriteModel{insertModel(0), updateModel(), insertModel(1)}
	batches := createBatches(models, false, 0)

	var insertBatch bulkWriteBatch
	for _, b := range batches {
		if b.kind() == 'i' {
			insertBatch = b
		}
	}

	errs := tagBatchErrors([]driver.WriteError{{Index: 1, Code: 11000, Message: "dup"}}, insertBatch)
	if len(errs) != 1 {
		t.Fatalf("want 1 tagged error, got %d", len(errs))
	}
	// The second insert is the third model overall.
	if errs[0].Index != 2 {
		t.Errorf("index: want 2, got %d", errs[0].Index)
	}
	if errs[0].Request == nil {
		t.Error("originating model not attached")
	}
}
