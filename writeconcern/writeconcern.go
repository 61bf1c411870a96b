// Package writeconcern describes write concern value objects for write operations.
package writeconcern

import (
	"errors"
	"time"
)

// WriteConcern describes the level of acknowledgement requested from the server for write operations.
type WriteConcern struct {
	w        interface{} // int or string ("majority" or a custom tag set name)
	j        *bool
	wTimeout time.Duration
}

// Option configures a WriteConcern.
type Option func(concern *WriteConcern)

// New constructs a new WriteConcern.
func New(options ...Option) *WriteConcern {
	concern := &WriteConcern{}
	for _, option := range options {
		option(concern)
	}
	return concern
}

// W requests acknowledgement that the write operation has propagated to a specified number of mongod instances.
func W(w int) Option {
	return func(concern *WriteConcern) {
		concern.w = w
	}
}

// WMajority requests acknowledgement that write operations have propagated to the majority of voting nodes.
func WMajority() Option {
	return func(concern *WriteConcern) {
		concern.w = "majority"
	}
}

// WTagSet requests acknowledgement that a write operation has propagated to a tagged member of the voting nodes.
func WTagSet(tag string) Option {
	return func(concern *WriteConcern) {
		concern.w = tag
	}
}

// J requests that the write operation is written to the on-disk journal.
func J(j bool) Option {
	return func(concern *WriteConcern) {
		concern.j = &j
	}
}

// WTimeout specifies specifies a time limit for the write concern.
func WTimeout(d time.Duration) Option {
	return func(concern *WriteConcern) {
		concern.wTimeout = d
	}
}

// Elements returns the w, j and wtimeout values that operations append to build the "writeConcern" document field,
// deliberately avoiding a dependency on any particular document codec.
func (wc *WriteConcern) Elements() (w interface{}, j *bool, wtimeout time.Duration) {
	return wc.w, wc.j, wc.wTimeout
}

// AcknowledgedValue returns true if the write concern requests acknowledgement.
func (wc *WriteConcern) AcknowledgedValue() bool {
	if wc == nil {
		return true
	}
	if wi, ok := wc.w.(int); ok {
		return wi != 0
	}
	return true
}

// Acknowledged indicates whether or not a write with the given write concern will be acknowledged.
func Acknowledged(wc *WriteConcern) bool {
	if wc == nil {
		return true
	}
	return wc.AcknowledgedValue()
}

// ErrNegativeW is returned when a negative W is provided.
var ErrNegativeW = errors.New("write concern `w` field cannot be a negative number")

// ErrNegativeWTimeout is returned when a negative WTimeout is provided.
var ErrNegativeWTimeout = errors.New("write concern `wtimeout` field cannot be negative")

// Validate validates the write concern.
func (wc *WriteConcern) Validate() error {
	if wc == nil {
		return nil
	}
	if wi, ok := wc.w.(int); ok && wi < 0 {
		return ErrNegativeW
	}
	if wc.wTimeout < 0 {
		return ErrNegativeWTimeout
	}
	return nil
}
