package driver

import (
	"testing"

	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
)

func makeDocs(n int) []bsoncore.Document {
	docs := make([]bsoncore.Document, n)
	for i := range docs {
		docs[i] = bsoncore.NewDocumentBuilder().AppendInt32("x", int32(i)).Build()
	}
	return docs
}

// 1200 documents against a server with max_write_batch_size=1000 split into
// exactly two batches of 1000 and 200.
func TestAdvanceBatchesSplitsAtMaxCount(t *testing.T) {
	b := &Batches{Identifier: "documents", Documents: makeDocs(1200)}

	if err := b.AdvanceBatches(1000, 0); err != nil {
		t.Fatalf("AdvanceBatches error: %v", err)
	}
	if len(b.Current) != 1000 {
		t.Errorf("first batch: want 1000 docs, got %d", len(b.Current))
	}

	if err := b.AdvanceBatches(1000, 0); err != nil {
		t.Fatalf("AdvanceBatches error: %v", err)
	}
	if len(b.Current) != 200 {
		t.Errorf("second batch: want 200 docs, got %d", len(b.Current))
	}

	if b.Size() != 0 {
		t.Errorf("remaining: want 0, got %d", b.Size())
	}
}

func TestAdvanceBatchesRespectsByteBudget(t *testing.T) {
	docs := makeDocs(10)
	docLen := len(docs[0])
	b := &Batches{Identifier: "documents", Documents: docs}

	// Budget fits exactly three documents.
	if err := b.AdvanceBatches(1000, 3*docLen); err != nil {
		t.Fatalf("AdvanceBatches error: %v", err)
	}
	if len(b.Current) != 3 {
		t.Errorf("batch: want 3 docs within byte budget, got %d", len(b.Current))
	}
}

func TestAdvanceBatchesOversizedDocStillProgresses(t *testing.T) {
	b := &Batches{Identifier: "documents", Documents: makeDocs(2)}
	if err := b.AdvanceBatches(1000, 1); err != nil {
		t.Fatalf("AdvanceBatches error: %v", err)
	}
	if len(b.Current) != 1 {
		t.Errorf("batch: want forced progress of 1 doc, got %d", len(b.Current))
	}
}

func TestBatchesOrderedDefault(t *testing.T) {
	b := &Batches{}
	if !b.IsOrdered() {
		t.Error("nil Ordered should default to true")
	}
	f := false
	b.Ordered = &f
	if b.IsOrdered() {
		t.Error("Ordered=false not honored")
	}
}

func TestEmptyBatches(t *testing.T) {
	var b *Batches
	if b.Size() != 0 {
		t.Error("nil batches should have size 0")
	}
}
