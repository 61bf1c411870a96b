package topology

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dbdrift/topologycore/address"
	"github.com/dbdrift/topologycore/description"
)

func seedFSM(kind description.TopologyKind, addrs ...string) *fsm {
	f := newFSM()
	f.Kind = kind
	for _, a := range addrs {
		f.Servers = append(f.Servers, description.NewDefaultServer(address.Address(a).Canonicalize()))
	}
	return f
}

func descOf(addr string, kind description.ServerKind) description.Server {
	d := description.NewDefaultServer(address.Address(addr).Canonicalize())
	d.Kind = kind
	return d
}

func rsDesc(addr string, kind description.ServerKind, setName string, hosts ...string) description.Server {
	d := descOf(addr, kind)
	d.SetName = setName
	d.Hosts = hosts
	return d
}

func fsmAddrs(f *fsm) []string {
	out := make([]string, 0, len(f.Servers))
	for _, s := range f.Servers {
		out = append(out, string(s.Addr))
	}
	sort.Strings(out)
	return out
}

// A single-seed topology whose sole server reports itself a secondary moves
// to ReplicaSetNoPrimary, records the set name, and adds the advertised
// hosts (including the reported primary) as Unknown.
func TestFSMSecondarySeedsReplicaSetNoPrimary(t *testing.T) {
	f := seedFSM(description.TopologyKindUnknown, "h1:27017")

	reply := rsDesc("h1:27017", description.RSSecondary, "rs0", "h1:27017", "h2:27017")
	reply.Primary = address.Address("h2:27017").Canonicalize()
	reply.Me = address.Address("h1:27017").Canonicalize()

	topo, _ := f.apply(reply)

	if topo.Kind != description.ReplicaSetNoPrimary {
		t.Errorf("kind: want ReplicaSetNoPrimary, got %s", topo.Kind)
	}
	if f.SetName != "rs0" {
		t.Errorf("set name: want rs0, got %q", f.SetName)
	}
	if diff := cmp.Diff([]string{"h1:27017", "h2:27017"}, fsmAddrs(f)); diff != "" {
		t.Errorf("members mismatch (-want +got):\n%s", diff)
	}
	for _, s := range f.Servers {
		if s.Addr == "h2:27017" && s.Kind != description.Unknown {
			t.Errorf("h2 should be Unknown until probed, got %s", s.Kind)
		}
	}
}

func TestFSMStandaloneSingleSeed(t *testing.T) {
	f := seedFSM(description.TopologyKindUnknown, "h1:27017")
	topo, _ := f.apply(descOf("h1:27017", description.Standalone))
	if topo.Kind != description.Single {
		t.Errorf("kind: want Single, got %s", topo.Kind)
	}
}

// With more than one seed, a standalone is not part of the set and is removed.
func TestFSMStandaloneMultiSeedRemoved(t *testing.T) {
	f := seedFSM(description.TopologyKindUnknown, "h1:27017", "h2:27017")
	topo, _ := f.apply(descOf("h1:27017", description.Standalone))
	if topo.Kind != description.TopologyKindUnknown {
		t.Errorf("kind: want Unknown, got %s", topo.Kind)
	}
	if diff := cmp.Diff([]string{"h2:27017"}, fsmAddrs(f)); diff != "" {
		t.Errorf("members mismatch (-want +got):\n%s", diff)
	}
}

func TestFSMMongosSeedsSharded(t *testing.T) {
	f := seedFSM(description.TopologyKindUnknown, "h1:27017", "h2:27017")
	topo, _ := f.apply(descOf("h1:27017", description.Mongos))
	if topo.Kind != description.Sharded {
		t.Errorf("kind: want Sharded, got %s", topo.Kind)
	}

	// A non-mongos report inside a sharded topology removes the server.
	topo, _ = f.apply(descOf("h2:27017", description.RSPrimary))
	if diff := cmp.Diff([]string{"h1:27017"}, fsmAddrs(f)); diff != "" {
		t.Errorf("members mismatch (-want +got):\n%s", diff)
	}
	if topo.Kind != description.Sharded {
		t.Errorf("kind: want Sharded, got %s", topo.Kind)
	}
}

// Adopting a primary reconciles membership: hosts not in the new view are
// removed, newly advertised ones are added Unknown, and the topology moves
// to ReplicaSetWithPrimary.
func TestFSMAdoptPrimary(t *testing.T) {
	f := seedFSM(description.TopologyKindUnknown, "h1:27017", "stale:27017")

	topo, _ := f.apply(rsDesc("h1:27017", description.RSPrimary, "rs0", "h1:27017", "h2:27017", "h3:27017"))

	if topo.Kind != description.ReplicaSetWithPrimary {
		t.Errorf("kind: want ReplicaSetWithPrimary, got %s", topo.Kind)
	}
	if diff := cmp.Diff([]string{"h1:27017", "h2:27017", "h3:27017"}, fsmAddrs(f)); diff != "" {
		t.Errorf("members mismatch (-want +got):\n%s", diff)
	}
}

// A primary from a different set name is dropped.
func TestFSMPrimaryWrongSetNameDropped(t *testing.T) {
	f := seedFSM(description.ReplicaSetNoPrimary, "h1:27017", "h2:27017")
	f.SetName = "rs0"

	topo, _ := f.apply(rsDesc("h1:27017", description.RSPrimary, "other", "h1:27017"))
	if topo.Kind != description.ReplicaSetNoPrimary {
		t.Errorf("kind: want ReplicaSetNoPrimary, got %s", topo.Kind)
	}
	if diff := cmp.Diff([]string{"h2:27017"}, fsmAddrs(f)); diff != "" {
		t.Errorf("members mismatch (-want +got):\n%s", diff)
	}
}

// When a new primary appears at a different address, the old primary is
// invalidated to Unknown.
func TestFSMNewPrimaryInvalidatesOld(t *testing.T) {
	f := seedFSM(description.TopologyKindUnknown, "h1:27017", "h2:27017")
	f.apply(rsDesc("h1:27017", description.RSPrimary, "rs0", "h1:27017", "h2:27017"))
	topo, _ := f.apply(rsDesc("h2:27017", description.RSPrimary, "rs0", "h1:27017", "h2:27017"))

	if topo.Kind != description.ReplicaSetWithPrimary {
		t.Errorf("kind: want ReplicaSetWithPrimary, got %s", topo.Kind)
	}
	var h1Kind description.ServerKind
	for _, s := range f.Servers {
		if s.Addr == "h1:27017" {
			h1Kind = s.Kind
		}
	}
	if h1Kind != description.Unknown {
		t.Errorf("old primary: want Unknown, got %s", h1Kind)
	}
}

// A primary whose (setVersion, electionId) is older than the recorded
// maximum is stale and demoted to Unknown.
func TestFSMStalePrimaryDemoted(t *testing.T) {
	f := seedFSM(description.TopologyKindUnknown, "h1:27017", "h2:27017")

	newer := rsDesc("h1:27017", description.RSPrimary, "rs0", "h1:27017", "h2:27017")
	newer.SetVersion = 2
	newer.ElectionID = [12]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 2}
	newer.HasElectionID = true
	f.apply(newer)

	stale := rsDesc("h2:27017", description.RSPrimary, "rs0", "h1:27017", "h2:27017")
	stale.SetVersion = 1
	stale.ElectionID = [12]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	stale.HasElectionID = true
	_, applied := f.apply(stale)

	if applied.Kind != description.Unknown {
		t.Errorf("stale primary: want Unknown, got %s", applied.Kind)
	}
}

// A member whose `me` field disagrees with the probed address is dropped to
// Unknown.
func TestFSMMeMismatchDropped(t *testing.T) {
	f := seedFSM(description.ReplicaSetNoPrimary, "alias:27017")
	f.SetName = "rs0"

	reply := rsDesc("alias:27017", description.RSSecondary, "rs0", "alias:27017")
	reply.Me = address.Address("canonical:27017").Canonicalize()
	_, applied := f.apply(reply)

	if applied.Kind != description.Unknown {
		t.Errorf("me-mismatch member: want Unknown, got %s", applied.Kind)
	}
}

// With no primary known, a secondary's member list still grows the
// topology: newly advertised hosts are added as Unknown.
func TestFSMSecondaryDiscoversMembersWithoutPrimary(t *testing.T) {
	f := seedFSM(description.ReplicaSetNoPrimary, "h1:27017")
	f.SetName = "rs0"

	topo, _ := f.apply(rsDesc("h1:27017", description.RSSecondary, "rs0", "h1:27017", "h2:27017", "h3:27017"))

	if topo.Kind != description.ReplicaSetNoPrimary {
		t.Errorf("kind: want ReplicaSetNoPrimary, got %s", topo.Kind)
	}
	if diff := cmp.Diff([]string{"h1:27017", "h2:27017", "h3:27017"}, fsmAddrs(f)); diff != "" {
		t.Errorf("members mismatch (-want +got):\n%s", diff)
	}
}

// A secondary from a different set name is removed rather than adopted.
func TestFSMSecondaryWrongSetNameRemoved(t *testing.T) {
	f := seedFSM(description.ReplicaSetNoPrimary, "h1:27017", "h2:27017")
	f.SetName = "rs0"

	f.apply(rsDesc("h1:27017", description.RSSecondary, "other", "h1:27017"))
	if diff := cmp.Diff([]string{"h2:27017"}, fsmAddrs(f)); diff != "" {
		t.Errorf("members mismatch (-want +got):\n%s", diff)
	}
}

// Losing the only primary demotes the topology to ReplicaSetNoPrimary.
func TestFSMPrimaryLostDemotesTopology(t *testing.T) {
	f := seedFSM(description.TopologyKindUnknown, "h1:27017", "h2:27017")
	f.apply(rsDesc("h1:27017", description.RSPrimary, "rs0", "h1:27017", "h2:27017"))

	topo, _ := f.apply(descOf("h1:27017", description.Unknown))
	if topo.Kind != description.ReplicaSetNoPrimary {
		t.Errorf("kind: want ReplicaSetNoPrimary, got %s", topo.Kind)
	}
}

// Single topology never changes kind regardless of what the server reports.
func TestFSMSingleNeverChanges(t *testing.T) {
	f := seedFSM(description.Single, "h1:27017")
	for _, kind := range []description.ServerKind{
		description.Standalone, description.Mongos, description.RSPrimary,
		description.RSSecondary, description.Unknown,
	} {
		topo, _ := f.apply(descOf("h1:27017", kind))
		if topo.Kind != description.Single {
			t.Errorf("kind after %s report: want Single, got %s", kind, topo.Kind)
		}
		if len(f.Servers) != 1 {
			t.Errorf("membership changed after %s report", kind)
		}
	}
}
