// Package codec defines the pluggable document encode/decode boundary.
// Binary document encoding itself is out of scope for this module; callers supply a Codec implementation and the driver core only calls
// EncodeOne/DecodeOne at the edges where user values cross into or out of
// wire-protocol documents.
package codec

import "github.com/dbdrift/topologycore/x/bsonx/bsoncore"

// Codec encodes and decodes a single Go value to/from a wire-level document.
type Codec interface {
	// EncodeOne encodes val (typically a bson.D, map, or struct) to a raw document.
	EncodeOne(val interface{}) (bsoncore.Document, error)
	// DecodeOne decodes a raw document into val, which must be a pointer.
	DecodeOne(doc bsoncore.Document, val interface{}) error
}

// Registry is the minimal default Codec used when the caller does not supply
// one. It encodes only bson.D, bson.M and map[string]interface{} values (see
// encodeBuiltin); struct tag based encoding is the responsibility of an
// application-supplied Codec.
type Registry struct{}

// DefaultRegistry is the zero-value default codec.
var DefaultRegistry Codec = Registry{}

// EncodeOne implements Codec.
func (Registry) EncodeOne(val interface{}) (bsoncore.Document, error) {
	switch v := val.(type) {
	case bsoncore.Document:
		return v, nil
	case nil:
		return bsoncore.EmptyDocument(), nil
	default:
		return encodeBuiltin(v)
	}
}

// DecodeOne implements Codec.
func (Registry) DecodeOne(doc bsoncore.Document, val interface{}) error {
	return decodeBuiltin(doc, val)
}
