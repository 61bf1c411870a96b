// Package bson provides the minimal ordered-document value types used to
// build command payloads (bson.D) before they reach the pluggable codec.
// Full document marshaling is out of scope for this module;
// this package only supplies the in-memory shape applications build
// commands and filters with.
package bson

// E represents a BSON element for a D.
type E struct {
	Key   string
	Value interface{}
}

// D is an ordered BSON document representation: a simple slice of ordered
// elements.
type D []E

// M is an unordered, shorthand BSON document representation.
type M map[string]interface{}

// A is a BSON array.
type A []interface{}

// Raw is an already-encoded wire document.
type Raw []byte
