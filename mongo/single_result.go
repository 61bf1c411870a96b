package mongo

import (
	"github.com/dbdrift/topologycore/codec"
	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
)

// SingleResult represents a single document returned from an operation. If
// the operation returned an error, all SingleResult methods return that
// error.
type SingleResult struct {
	err      error
	doc      bsoncore.Document
	registry codec.Codec
}

// Err returns the error from the operation that created this SingleResult.
func (sr *SingleResult) Err() error { return sr.err }

// Raw returns the raw document.
func (sr *SingleResult) Raw() (bsoncore.Document, error) {
	if sr.err != nil {
		return nil, sr.err
	}
	return sr.doc, nil
}

// Decode unmarshals the document into val via the codec.
func (sr *SingleResult) Decode(val interface{}) error {
	if sr.err != nil {
		return sr.err
	}
	registry := sr.registry
	if registry == nil {
		registry = codec.DefaultRegistry
	}
	return registry.DecodeOne(sr.doc, val)
}
