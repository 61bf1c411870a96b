package topology

import (
	"github.com/dbdrift/topologycore/address"
	"github.com/dbdrift/topologycore/description"
)

// fsm implements the server-discovery-and-monitoring state machine's
// transition table. It owns the current topology
// description and knows how to fold in one freshly observed server
// descriptor at a time.
type fsm struct {
	description.Topology

	maxElectionID  [12]byte
	maxSetVersion  uint32
}

func newFSM() *fsm {
	return &fsm{Topology: description.Topology{Kind: description.TopologyKindUnknown}}
}

func (f *fsm) findServer(addr address.Address) (int, bool) {
	for i, s := range f.Servers {
		if s.Addr == addr {
			return i, true
		}
	}
	return -1, false
}

// apply folds desc into the fsm's topology per the transition table,
// returning the resulting topology and the (possibly modified, e.g.
// demoted-to-Unknown) server description that was actually recorded.
func (f *fsm) apply(desc description.Server) (description.Topology, description.Server) {
	idx, ok := f.findServer(desc.Addr)
	if !ok {
		// Server isn't (or is no longer) a member of this topology; drop the report.
		return f.Topology, desc
	}

	switch f.Kind {
	case description.TopologyKindUnknown:
		f.updateUnknown(idx, desc)
	case description.Single:
		// Single never changes kind; still records the one server's descriptor.
		f.Servers[idx] = desc
	case description.Sharded:
		f.updateSharded(idx, desc)
	case description.ReplicaSetNoPrimary:
		desc = f.updateRSNoPrimary(idx, desc)
	case description.ReplicaSetWithPrimary:
		desc = f.updateRSWithPrimary(idx, desc)
	}

	return f.Topology, desc
}

func (f *fsm) removeServerByAddr(addr address.Address) {
	if idx, ok := f.findServer(addr); ok {
		f.removeServerByIndex(idx)
	}
}

func (f *fsm) removeServerByIndex(idx int) {
	f.Servers = append(f.Servers[:idx], f.Servers[idx+1:]...)
}

func (f *fsm) addServer(addr address.Address) {
	for _, s := range f.Servers {
		if s.Addr == addr {
			return
		}
	}
	f.Servers = append(f.Servers, description.NewDefaultServer(addr))
}

func (f *fsm) updateUnknown(idx int, desc description.Server) {
	switch desc.Kind {
	case description.Standalone:
		if len(f.Servers) == 1 {
			f.Kind = description.Single
			f.Servers[idx] = desc
			return
		}
		// More than one seed and a standalone shows up: it isn't part of the set.
		f.removeServerByIndex(idx)
	case description.Mongos:
		f.Kind = description.Sharded
		f.Servers[idx] = desc
	case description.RSPrimary:
		f.Kind = description.ReplicaSetWithPrimary
		f.Servers[idx] = desc
		f.adoptPrimary(idx, desc)
	case description.RSSecondary, description.RSArbiter, description.RSOther:
		f.Kind = description.ReplicaSetNoPrimary
		f.Servers[idx] = desc
		f.adoptMember(idx, desc)
	default:
		// Unknown/RSGhost: the topology kind is unchanged, but the server's
		// own report (including any probe error) is recorded.
		f.Servers[idx] = desc
	}
}

func (f *fsm) updateSharded(idx int, desc description.Server) {
	switch desc.Kind {
	case description.Mongos, description.Unknown, description.RSGhost:
		f.Servers[idx] = desc
	default:
		// A data-bearing or RS member report means this server isn't a
		// mongos after all; drop it.
		f.removeServerByIndex(idx)
	}
}

func (f *fsm) updateRSNoPrimary(idx int, desc description.Server) description.Server {
	switch desc.Kind {
	case description.Standalone, description.Mongos:
		f.removeServerByIndex(idx)
		return desc
	case description.RSPrimary:
		f.Servers[idx] = desc
		result := f.adoptPrimary(idx, desc)
		if f.hasPrimary() {
			f.Kind = description.ReplicaSetWithPrimary
		}
		return result
	case description.RSSecondary, description.RSArbiter, description.RSOther:
		f.Servers[idx] = desc
		return f.adoptMember(idx, desc)
	default:
		f.Servers[idx] = desc
		return desc
	}
}

func (f *fsm) updateRSWithPrimary(idx int, desc description.Server) description.Server {
	switch desc.Kind {
	case description.Standalone, description.Mongos:
		f.removeServerByIndex(idx)
		return desc
	case description.RSPrimary:
		f.Servers[idx] = desc
		result := f.adoptPrimary(idx, desc)
		if !f.hasPrimary() {
			f.Kind = description.ReplicaSetNoPrimary
		}
		return result
	case description.RSSecondary, description.RSArbiter, description.RSOther:
		f.Servers[idx] = desc
		result := f.adoptMember(idx, desc)
		if !f.hasPrimary() {
			f.Kind = description.ReplicaSetNoPrimary
		}
		return result
	default:
		// Unknown/RSGhost: record the report, then demote to no-primary if
		// we've lost our primary.
		f.Servers[idx] = desc
		if !f.hasPrimary() {
			f.Kind = description.ReplicaSetNoPrimary
		}
		return desc
	}
}

func (f *fsm) hasPrimary() bool {
	for _, s := range f.Servers {
		if s.Kind == description.RSPrimary {
			return true
		}
	}
	return false
}

// adoptPrimary records the set name
// if unset, drop reports from a different set, invalidate any stale primary
// at another address, add newly advertised members as Unknown, remove
// addresses that fell out of the set, and track the maximum (setVersion,
// electionID) to demote stale primaries.
func (f *fsm) adoptPrimary(idx int, desc description.Server) description.Server {
	if f.SetName == "" {
		f.SetName = desc.SetName
	} else if f.SetName != desc.SetName {
		f.removeServerByIndex(idx)
		return desc
	}

	if f.isStalePrimary(desc) {
		f.Servers[idx] = description.NewDefaultServer(desc.Addr)
		return f.Servers[idx]
	}
	if desc.HasElectionID && (desc.SetVersion > f.maxSetVersion ||
		(desc.SetVersion == f.maxSetVersion && electionIDGreater(desc.ElectionID, f.maxElectionID))) {
		f.maxSetVersion = desc.SetVersion
		f.maxElectionID = desc.ElectionID
	}

	for i := range f.Servers {
		if i == idx {
			continue
		}
		if f.Servers[i].Kind == description.RSPrimary && f.Servers[i].Addr != desc.Addr {
			f.Servers[i] = description.NewDefaultServer(f.Servers[i].Addr)
		}
	}

	f.reconcileMembership(desc)
	return desc
}

// isStalePrimary reports whether desc's (setVersion, electionID) is older
// than the maximum already recorded.
func (f *fsm) isStalePrimary(desc description.Server) bool {
	if !desc.HasElectionID || f.maxSetVersion == 0 {
		return false
	}
	if desc.SetVersion < f.maxSetVersion {
		return true
	}
	if desc.SetVersion == f.maxSetVersion && !electionIDGreater(desc.ElectionID, f.maxElectionID) && desc.ElectionID != f.maxElectionID {
		return true
	}
	return false
}

func electionIDGreater(a, b [12]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

// adoptMember folds a non-primary member report into the set: record the
// set name if unset, drop reports from a different set, drop the report if
// the advertised `me` disagrees with the observed address, and add newly
// advertised hosts/passives/arbiters as Unknown. Unlike adoptPrimary it
// never removes other members; only the primary's view prunes the set.
func (f *fsm) adoptMember(idx int, desc description.Server) description.Server {
	if f.SetName == "" {
		f.SetName = desc.SetName
	} else if f.SetName != desc.SetName {
		f.removeServerByIndex(idx)
		return desc
	}

	if desc.Me != "" && desc.Me.Canonicalize() != desc.Addr.Canonicalize() {
		f.Servers[idx] = description.NewDefaultServer(desc.Addr)
		return f.Servers[idx]
	}

	f.addDiscoveredMembers(desc)
	return desc
}

// addDiscoveredMembers adds every advertised host/passive/arbiter not yet in
// the topology as Unknown, so its monitor starts on the next diff.
func (f *fsm) addDiscoveredMembers(desc description.Server) {
	for _, list := range [][]string{desc.Hosts, desc.Passives, desc.Arbiters} {
		for _, a := range list {
			f.addServer(address.Address(a).Canonicalize())
		}
	}
}

// reconcileMembership adds newly advertised hosts/passives/arbiters as
// Unknown and removes addresses no longer present in the set.
func (f *fsm) reconcileMembership(desc description.Server) {
	known := make(map[string]struct{}, len(desc.Hosts)+len(desc.Passives)+len(desc.Arbiters))
	addAll := func(addrs []string) {
		for _, a := range addrs {
			known[string(address.Address(a).Canonicalize())] = struct{}{}
		}
	}
	addAll(desc.Hosts)
	addAll(desc.Passives)
	addAll(desc.Arbiters)

	for addr := range known {
		f.addServer(address.Address(addr))
	}

	filtered := f.Servers[:0]
	for _, s := range f.Servers {
		if _, ok := known[string(s.Addr.Canonicalize())]; ok {
			filtered = append(filtered, s)
		}
	}
	f.Servers = filtered
}
