package topology

import (
	"strings"

	"github.com/dbdrift/topologycore/description"
)

// topologyDiff captures which servers were added or removed between two
// topology descriptions, used to start/stop per-address monitors.
type topologyDiff struct {
	Added   []description.Server
	Removed []description.Server
}

func diffTopology(old, new description.Topology) topologyDiff {
	var diff topologyDiff

	oldAddrs := make(map[string]struct{}, len(old.Servers))
	for _, s := range old.Servers {
		oldAddrs[string(s.Addr)] = struct{}{}
	}
	newAddrs := make(map[string]struct{}, len(new.Servers))
	for _, s := range new.Servers {
		newAddrs[string(s.Addr)] = struct{}{}
		if _, ok := oldAddrs[string(s.Addr)]; !ok {
			diff.Added = append(diff.Added, s)
		}
	}
	for _, s := range old.Servers {
		if _, ok := newAddrs[string(s.Addr)]; !ok {
			diff.Removed = append(diff.Removed, s)
		}
	}
	return diff
}

// hostListDiff captures which hostnames were added or removed between the
// topology's current member list and a freshly resolved SRV record set.
type hostListDiff struct {
	Added   []string
	Removed []string
}

func diffHostList(topo description.Topology, hosts []string) hostListDiff {
	var diff hostListDiff

	existing := make(map[string]struct{}, len(topo.Servers))
	for _, s := range topo.Servers {
		existing[strings.ToLower(string(s.Addr))] = struct{}{}
	}
	incoming := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		lower := strings.ToLower(h)
		incoming[lower] = struct{}{}
		if _, ok := existing[lower]; !ok {
			diff.Added = append(diff.Added, h)
		}
	}
	for _, s := range topo.Servers {
		lower := strings.ToLower(string(s.Addr))
		if _, ok := incoming[lower]; !ok {
			diff.Removed = append(diff.Removed, lower)
		}
	}
	return diff
}
