package driver

import "github.com/dbdrift/topologycore/x/bsonx/bsoncore"

// Batches contains the necessary information to batch split an array of
// writes in to the correct batch sizes.
type Batches struct {
	Identifier string
	Documents  []bsoncore.Document
	Current    []bsoncore.Document
	Ordered    *bool

	offset int
}

// ClearBatch clears the current batch.
func (b *Batches) ClearBatch() {
	b.Current = b.Current[:0]
}

// IsOrdered returns true if the batch is ordered; defaults to true to match
// the server's default.
func (b *Batches) IsOrdered() bool {
	if b == nil || b.Ordered == nil {
		return true
	}
	return *b.Ordered
}

// ClearBatches clears all of the batches.
func (b *Batches) ClearBatches() {
	b.Documents = b.Documents[:0]
	b.offset = 0
}

// Size returns the number of remaining batches.
func (b *Batches) Size() int {
	if b == nil {
		return 0
	}
	return len(b.Documents) - b.offset
}

// AdvanceBatches splits off up to maxCount docs (bounded by targetBatchSize
// bytes) into Current.
func (b *Batches) AdvanceBatches(maxCount int, targetBatchSize int) error {
	remaining := b.Documents[b.offset:]
	if len(remaining) == 0 {
		b.Current = nil
		return nil
	}
	if maxCount <= 0 {
		maxCount = len(remaining)
	}

	var size int
	var n int
	for n < len(remaining) && n < maxCount {
		docLen := len(remaining[n])
		if n > 0 && targetBatchSize > 0 && size+docLen > targetBatchSize {
			break
		}
		size += docLen
		n++
	}
	if n == 0 {
		n = 1 // always make progress even if a single document exceeds the target size
	}

	b.Current = remaining[:n]
	b.offset += n
	return nil
}
