// Package operation defines the concrete commands executed through the
// generic driver.Operation executor: CRUD writes, queries,
// cursor continuation, index management, and administrative passthroughs.
package operation

import (
	"fmt"

	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
	"github.com/dbdrift/topologycore/x/driver"
)

// extractWriteErrors parses a writeErrors array from a write command reply
// into per-document errors.
func extractWriteErrors(arr bsoncore.Document) []driver.WriteError {
	elems, err := arr.Elements()
	if err != nil {
		return nil
	}
	var out []driver.WriteError
	for _, e := range elems {
		doc := e.Value().Document()
		if doc == nil {
			continue
		}
		var we driver.WriteError
		if v, err := doc.LookupErr("index"); err == nil {
			if n, ok := v.AsInt32OK(); ok {
				we.Index = int(n)
			}
		}
		if v, err := doc.LookupErr("code"); err == nil {
			we.Code, _ = v.AsInt32OK()
		}
		if v, err := doc.LookupErr("errmsg"); err == nil {
			we.Message = v.StringValue()
		}
		out = append(out, we)
	}
	return out
}

func extractWriteConcernError(doc bsoncore.Document) *driver.WriteConcernError {
	if doc == nil {
		return nil
	}
	wce := &driver.WriteConcernError{}
	if v, err := doc.LookupErr("code"); err == nil {
		wce.Code, _ = v.AsInt32OK()
	}
	if v, err := doc.LookupErr("errmsg"); err == nil {
		wce.Message = v.StringValue()
	}
	return wce
}

// CursorResponse is the parsed `cursor` sub-document of a find/getMore
// reply: an opaque 8-byte id, a namespace, and one batch of documents.
type CursorResponse struct {
	ID                   int64
	Namespace            string
	Batch                []bsoncore.Document
	PostBatchResumeToken bsoncore.Document
	Address              string
}

// ExtractCursorResponse parses the cursor sub-document out of reply.
func ExtractCursorResponse(reply bsoncore.Document) (CursorResponse, error) {
	var cr CursorResponse
	cursorVal, err := reply.LookupErr("cursor")
	if err != nil {
		return cr, fmt.Errorf("reply is missing the cursor document: %w", err)
	}
	cursorDoc := cursorVal.Document()
	if cursorDoc == nil {
		return cr, fmt.Errorf("cursor field is not a document")
	}

	if v, err := cursorDoc.LookupErr("id"); err == nil {
		cr.ID, _ = v.AsInt64OK()
	}
	if v, err := cursorDoc.LookupErr("ns"); err == nil {
		cr.Namespace = v.StringValue()
	}
	if v, err := cursorDoc.LookupErr("postBatchResumeToken"); err == nil {
		cr.PostBatchResumeToken = v.Document()
	}

	batchVal, err := cursorDoc.LookupErr("firstBatch")
	if err != nil {
		batchVal, err = cursorDoc.LookupErr("nextBatch")
	}
	if err == nil {
		elems, err := batchVal.Array().Elements()
		if err != nil {
			return cr, err
		}
		for _, e := range elems {
			if doc := e.Value().Document(); doc != nil {
				cr.Batch = append(cr.Batch, doc)
			}
		}
	}
	return cr, nil
}
