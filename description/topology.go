package description

import (
	"fmt"

	"github.com/dbdrift/topologycore/address"
)

// MinSupportedMongoDBVersion is the legacy wire-protocol floor this driver advertises.
const MinSupportedMongoDBVersion = "3.6"

// SupportedWireVersions is the range of wire versions supported by this driver.
var SupportedWireVersions = NewVersionRange(6, 21)

// Topology represents a description of a MongoDB deployment.
type Topology struct {
	SessionTimeoutMinutes uint32
	Kind                  TopologyKind
	Servers               []Server
	SetName               string
	CompatibilityErr      error
}

// Equal compares two topology descriptions and returns true if they are equal.
func (t Topology) Equal(other Topology) bool {
	if t.Kind != other.Kind {
		return false
	}
	if len(t.Servers) != len(other.Servers) {
		return false
	}

	serversByAddr := make(map[address.Address]Server, len(other.Servers))
	for _, s := range other.Servers {
		serversByAddr[s.Addr] = s
	}
	for _, s := range t.Servers {
		otherServer, ok := serversByAddr[s.Addr]
		if !ok || !s.Equal(otherServer) {
			return false
		}
	}
	return (t.CompatibilityErr == nil) == (other.CompatibilityErr == nil)
}

// hasDataBearingServer returns true if any server in the topology is data-bearing.
func (t Topology) hasDataBearingServer() bool {
	for _, s := range t.Servers {
		if s.Kind.DataBearing() {
			return true
		}
	}
	return false
}

// CheckCompatible checks if server versions are compatible with the driver,
// returning a non-nil error (and setting CompatibilityErr) if they are not.
func (t *Topology) CheckCompatible() error {
	for _, s := range t.Servers {
		if !s.Kind.DataBearing() || s.WireVersion == nil {
			continue
		}
		if s.WireVersion.Max < SupportedWireVersions.Min {
			t.CompatibilityErr = fmt.Errorf(
				"server at %s reports wire version %d, but this driver only supports %d to %d (inclusive); "+
					"server version must be upgraded", s.Addr, s.WireVersion.Max, SupportedWireVersions.Min, SupportedWireVersions.Max)
			return t.CompatibilityErr
		}
		if s.WireVersion.Min > SupportedWireVersions.Max {
			t.CompatibilityErr = fmt.Errorf(
				"server at %s requires wire version %d, but this driver only supports %d to %d (inclusive); "+
					"you need to upgrade this driver", s.Addr, s.WireVersion.Min, SupportedWireVersions.Min, SupportedWireVersions.Max)
			return t.CompatibilityErr
		}
	}
	t.CompatibilityErr = nil
	return nil
}

// String implements the Stringer interface.
func (t Topology) String() string {
	return fmt.Sprintf("Type: %s, Servers: %v", t.Kind, t.Servers)
}
