package description

import (
	"fmt"
	"strings"
	"time"

	"github.com/dbdrift/topologycore/address"
	"github.com/dbdrift/topologycore/tag"
)

// SelectedServer augments a server description with the topology kind that
// selected it, since some command-building decisions (e.g. read preference
// passthrough to mongos) depend on both.
type SelectedServer struct {
	Server
	Kind TopologyKind
}

// Server represents an immutable snapshot of a single server's observed state,
// rebuilt on every monitor probe.
type Server struct {
	Addr address.Address

	LastWriteTime         time.Time
	LastUpdateTime        time.Time
	RTT                   time.Duration
	RTTSet                bool
	AverageRTT            time.Duration
	AverageRTTSet         bool
	Kind                  ServerKind
	LastError             error
	SetName               string
	SetVersion            uint32
	ElectionID            [12]byte
	HasElectionID         bool
	Hosts                 []string
	Passives              []string
	Arbiters              []string
	Primary               address.Address
	Me                    address.Address
	Tags                  tag.Set
	WireVersion           *VersionRange
	MaxDocumentSize       uint32
	MaxMessageSize        uint32
	MaxBatchCount         uint32
	SessionTimeoutMinutes uint32
	Compressors           []string
	Compressor            string

	TopologyVersion *TopologyVersion
}

// TopologyVersion tracks the (processId, counter) pair used to discard stale
// probes.
type TopologyVersion struct {
	ProcessID string
	Counter   int64
}

// CompareToIncoming reports whether tv is newer (>0), older (<0) or equal (0)
// to other, per the rule that a topologyVersion only regresses when the
// processId changes.
func (tv *TopologyVersion) CompareToIncoming(other *TopologyVersion) int {
	if tv == nil || other == nil {
		return 0
	}
	if tv.ProcessID != other.ProcessID {
		return 0
	}
	switch {
	case tv.Counter > other.Counter:
		return 1
	case tv.Counter < other.Counter:
		return -1
	default:
		return 0
	}
}

// NewDefaultServer creates a new unpopulated server description for the given address.
func NewDefaultServer(addr address.Address) Server {
	return NewServer(addr)
}

// NewServer creates a new server description for the given address.
func NewServer(addr address.Address) Server {
	return Server{Addr: addr, Kind: Unknown, LastUpdateTime: time.Now()}
}

// Equal compares two server descriptions and returns true if they are equal.
func (s Server) Equal(other Server) bool {
	if s.CanonicalAddr() != other.CanonicalAddr() {
		return false
	}
	if !addrsEqual(s.Hosts, other.Hosts) || !addrsEqual(s.Passives, other.Passives) || !addrsEqual(s.Arbiters, other.Arbiters) {
		return false
	}
	if s.Kind != other.Kind || s.LastError != nil != (other.LastError != nil) {
		if (s.LastError == nil) != (other.LastError == nil) {
			return false
		}
	}
	if s.SetName != other.SetName || s.SetVersion != other.SetVersion {
		return false
	}
	if s.Kind != other.Kind {
		return false
	}
	if !s.WireVersionEqual(other) {
		return false
	}
	return true
}

// WireVersionEqual returns true if the wire version ranges of the two descriptors match.
func (s Server) WireVersionEqual(other Server) bool {
	if (s.WireVersion == nil) != (other.WireVersion == nil) {
		return false
	}
	if s.WireVersion == nil {
		return true
	}
	return *s.WireVersion == *other.WireVersion
}

// CanonicalAddr returns the normalized address of this server.
func (s Server) CanonicalAddr() address.Address {
	if len(s.Me) > 0 {
		return s.Me.Canonicalize()
	}
	return s.Addr.Canonicalize()
}

func addrsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]struct{}, len(a))
	for _, x := range a {
		seen[strings.ToLower(x)] = struct{}{}
	}
	for _, x := range b {
		if _, ok := seen[strings.ToLower(x)]; !ok {
			return false
		}
	}
	return true
}

// String implements the Stringer interface.
func (s Server) String() string {
	str := fmt.Sprintf("Addr: %s, Type: %s", s.Addr, s.Kind)
	if len(s.Tags) != 0 {
		str += fmt.Sprintf(", Tag sets: %v", s.Tags)
	}
	if s.LastError != nil {
		str += fmt.Sprintf(", Last error: %s", s.LastError)
	}
	return str
}
