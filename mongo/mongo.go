package mongo

import (
	"crypto/rand"
	"time"

	"github.com/dbdrift/topologycore/codec"
	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
)

// marshal converts a user-supplied value into a raw document through the
// pluggable codec boundary.
func marshal(val interface{}, registry codec.Codec) (bsoncore.Document, error) {
	if val == nil {
		return nil, ErrNilDocument
	}
	if registry == nil {
		registry = codec.DefaultRegistry
	}
	doc, err := registry.EncodeOne(val)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ensureID makes sure the document has an _id element, generating an
// objectid-shaped value when absent, and returns the document plus its id
// value for result reporting.
func ensureID(doc bsoncore.Document) (bsoncore.Document, bsoncore.Value) {
	if v, err := doc.LookupErr("_id"); err == nil {
		return doc, v
	}

	var oid [12]byte
	ts := uint32(time.Now().Unix())
	oid[0] = byte(ts >> 24)
	oid[1] = byte(ts >> 16)
	oid[2] = byte(ts >> 8)
	oid[3] = byte(ts)
	_, _ = rand.Read(oid[4:])

	idElem := append([]byte{byte(bsoncore.TypeObjectID)}, "_id"...)
	idElem = append(idElem, 0)
	idElem = append(idElem, oid[:]...)

	elems, err := doc.Elements()
	if err != nil {
		return doc, bsoncore.Value{}
	}
	all := make([][]byte, 0, len(elems)+1)
	all = append(all, idElem)
	for _, e := range elems {
		all = append(all, e)
	}
	newDoc := bsoncore.BuildDocument(nil, all...)
	return newDoc, bsoncore.Value{Type: bsoncore.TypeObjectID, Data: oid[:]}
}

func maxTimeMSFromDuration(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	ms := int64(*d / time.Millisecond)
	return &ms
}
