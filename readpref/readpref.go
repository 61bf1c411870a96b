// Package readpref defines read preferences for read operations, implementing
// the five modes and max-staleness/tag-set constraints.
package readpref

import (
	"errors"
	"time"

	"github.com/dbdrift/topologycore/tag"
)

// Fixed default/minimum values for maxStaleness, as described in the server
// SDAM spec.
const (
	MinMaxStaleness      = 90 * time.Second
	errNonPrimaryTagSets = "non-empty tag sets not allowed with primary mode"
)

// New creates a new ReadPref.
func New(mode Mode, opts ...Option) (*ReadPref, error) {
	rp := &ReadPref{
		mode: mode,
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(rp); err != nil {
			return nil, err
		}
	}

	if mode == PrimaryMode && len(rp.tagSets) > 0 {
		return nil, errors.New(errNonPrimaryTagSets)
	}

	return rp, nil
}

// Primary constructs a read preference with a PrimaryMode.
func Primary() *ReadPref {
	rp, _ := New(PrimaryMode)
	return rp
}

// PrimaryPreferred constructs a read preference with a PrimaryPreferredMode.
func PrimaryPreferred(opts ...Option) *ReadPref {
	rp, _ := New(PrimaryPreferredMode, opts...)
	return rp
}

// SecondaryPreferred constructs a read preference with a SecondaryPreferredMode.
func SecondaryPreferred(opts ...Option) *ReadPref {
	rp, _ := New(SecondaryPreferredMode, opts...)
	return rp
}

// Secondary constructs a read preference with a SecondaryMode.
func Secondary(opts ...Option) *ReadPref {
	rp, _ := New(SecondaryMode, opts...)
	return rp
}

// Nearest constructs a read preference with a NearestMode.
func Nearest(opts ...Option) *ReadPref {
	rp, _ := New(NearestMode, opts...)
	return rp
}

// Option configures a read preference.
type Option func(*ReadPref) error

// WithMaxStaleness sets the maximum staleness a secondary is allowed to have.
func WithMaxStaleness(ms time.Duration) Option {
	return func(rp *ReadPref) error {
		rp.maxStaleness = ms
		rp.maxStalenessSet = true
		return nil
	}
}

// WithTags sets a single tag set used to match replica set members.
func WithTags(tagSet ...string) Option {
	set := make(map[string]string)
	for i := 0; i < len(tagSet)-1; i += 2 {
		set[tagSet[i]] = tagSet[i+1]
	}
	return WithTagSets(tag.NewTagSetFromMap(set))
}

// WithTagSets sets the ordered list of tag sets used to match replica set members.
func WithTagSets(tagSets ...tag.Set) Option {
	return func(rp *ReadPref) error {
		if len(tagSets) == 0 {
			return nil
		}
		rp.tagSets = append(rp.tagSets, tagSets...)
		return nil
	}
}

// WithHedgeEnabled sets whether the server should enable hedged reads.
func WithHedgeEnabled(enabled bool) Option {
	return func(rp *ReadPref) error {
		rp.hedgeEnabled = &enabled
		return nil
	}
}

// ReadPref determines which servers are considered suitable for read operations.
type ReadPref struct {
	maxStaleness    time.Duration
	maxStalenessSet bool
	mode            Mode
	tagSets         []tag.Set
	hedgeEnabled    *bool
}

// MaxStaleness is the maximum amount of time to allow a server to be considered fresh.
func (r *ReadPref) MaxStaleness() (time.Duration, bool) {
	return r.maxStaleness, r.maxStalenessSet
}

// Mode returns the mode of this read preference.
func (r *ReadPref) Mode() Mode {
	return r.mode
}

// TagSets returns the tag sets for this read preference.
func (r *ReadPref) TagSets() []tag.Set {
	return r.tagSets
}

// HedgeEnabled returns whether hedged reads are enabled for this read preference.
func (r *ReadPref) HedgeEnabled() *bool {
	return r.hedgeEnabled
}
