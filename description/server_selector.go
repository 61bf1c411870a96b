package description

import (
	"fmt"
	"time"

	"github.com/dbdrift/topologycore/address"
	"github.com/dbdrift/topologycore/readpref"
)

// ServerSelector is an interface implemented by types that can select a set of
// suitable servers given a topology description.
type ServerSelector interface {
	SelectServer(Topology, []Server) ([]Server, error)
}

// ServerSelectorFunc is a function that can be used as a ServerSelector.
type ServerSelectorFunc func(Topology, []Server) ([]Server, error)

// SelectServer implements the ServerSelector interface.
func (ssf ServerSelectorFunc) SelectServer(t Topology, s []Server) ([]Server, error) {
	return ssf(t, s)
}

// WriteSelector selects all the writable servers.
type WriteSelector struct{}

// SelectServer selects the writable servers from the topology.
func (WriteSelector) SelectServer(topo Topology, candidates []Server) ([]Server, error) {
	switch topo.Kind {
	case Single:
		return candidates, nil
	case LoadBalanced:
		return candidates, nil
	default:
		var servers []Server
		for _, s := range candidates {
			if s.Kind == RSPrimary || s.Kind == Mongos || s.Kind == Standalone {
				servers = append(servers, s)
			}
		}
		return servers, nil
	}
}

// ReadPrefSelector selects servers based on the given read preference,
// applying mode, max-staleness, and tag-set filtering in that order.
type ReadPrefSelector struct {
	rp             *readpref.ReadPref
	isOutputAggregate bool
}

// ReadPrefSelectorFn returns a ServerSelector that selects servers based on
// the given read preference.
func ReadPrefSelectorFn(rp *readpref.ReadPref) ServerSelector {
	return &ReadPrefSelector{rp: rp}
}

// SelectServer selects servers based on read preference.
func (rp *ReadPrefSelector) SelectServer(topo Topology, candidates []Server) ([]Server, error) {
	if topo.Kind == LoadBalanced {
		return candidates, nil
	}

	if topo.Kind == Single {
		return candidates, nil
	}

	if topo.Kind == Sharded {
		// mongos applies the read preference server-side; the client only filters by staleness.
		return selectByStaleness(rp.rp, topo, candidates)
	}

	switch rp.rp.Mode() {
	case readpref.PrimaryMode:
		return selectByKind(candidates, RSPrimary), nil
	case readpref.PrimaryPreferredMode:
		if s := selectByKind(candidates, RSPrimary); len(s) > 0 {
			return s, nil
		}
		return rp.selectSecondaries(topo, candidates)
	case readpref.SecondaryPreferredMode:
		if s, err := rp.selectSecondaries(topo, candidates); err == nil && len(s) > 0 {
			return s, nil
		}
		return selectByKind(candidates, RSPrimary), nil
	case readpref.SecondaryMode:
		return rp.selectSecondaries(topo, candidates)
	case readpref.NearestMode:
		return rp.selectNearest(topo, candidates)
	default:
		return nil, fmt.Errorf("unsupported read preference mode %d", rp.rp.Mode())
	}
}

func (rp *ReadPrefSelector) selectSecondaries(topo Topology, candidates []Server) ([]Server, error) {
	secondaries := selectByKind(candidates, RSSecondary)
	fresh, err := selectByStaleness(rp.rp, topo, secondaries)
	if err != nil {
		return nil, err
	}
	return selectByTagSets(fresh, rp.rp), nil
}

func (rp *ReadPrefSelector) selectNearest(topo Topology, candidates []Server) ([]Server, error) {
	var eligible []Server
	for _, s := range candidates {
		if s.Kind == RSPrimary || s.Kind == RSSecondary {
			eligible = append(eligible, s)
		}
	}
	fresh, err := selectByStaleness(rp.rp, topo, eligible)
	if err != nil {
		return nil, err
	}
	return selectByTagSets(fresh, rp.rp), nil
}

func selectByKind(candidates []Server, kind ServerKind) []Server {
	var out []Server
	for _, s := range candidates {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

func selectByTagSets(candidates []Server, rp *readpref.ReadPref) []Server {
	tagSets := rp.TagSets()
	if len(tagSets) == 0 {
		return candidates
	}
	for _, set := range tagSets {
		var matched []Server
		for _, s := range candidates {
			if len(set) == 0 || s.Tags.ContainsAll(set) {
				matched = append(matched, s)
			}
		}
		if len(matched) > 0 {
			return matched
		}
	}
	return nil
}

// selectByStaleness applies the max-staleness filter.
func selectByStaleness(rp *readpref.ReadPref, topo Topology, candidates []Server) ([]Server, error) {
	maxStaleness, set := rp.MaxStaleness()
	if !set || maxStaleness <= 0 {
		return candidates, nil
	}

	if err := validateMaxStaleness(maxStaleness, topo); err != nil {
		return nil, err
	}

	var primary *Server
	for i, s := range topo.Servers {
		if s.Kind == RSPrimary {
			primary = &topo.Servers[i]
			break
		}
	}

	heartbeatFrequency := estimateHeartbeatFrequency(topo)

	var fresh []Server
	if primary != nil {
		for _, s := range candidates {
			staleness := (s.LastUpdateTime.Sub(primary.LastUpdateTime)) -
				(s.LastWriteTime.Sub(primary.LastWriteTime)) + heartbeatFrequency
			if staleness <= maxStaleness {
				fresh = append(fresh, s)
			}
		}
		return fresh, nil
	}

	// No primary known: use the secondary with the latest last-write time as reference.
	var ref *Server
	for i, s := range candidates {
		if ref == nil || s.LastWriteTime.After(ref.LastWriteTime) {
			ref = &candidates[i]
		}
	}
	if ref == nil {
		return candidates, nil
	}
	for _, s := range candidates {
		staleness := ref.LastWriteTime.Sub(s.LastWriteTime) + heartbeatFrequency
		if staleness <= maxStaleness {
			fresh = append(fresh, s)
		}
	}
	return fresh, nil
}

// minMaxStalenessWireVersion is the first wire version whose hello replies
// carry the lastWrite date the staleness estimate depends on.
const minMaxStalenessWireVersion = 5

func validateMaxStaleness(maxStaleness time.Duration, topo Topology) error {
	for _, s := range topo.Servers {
		if s.Kind == Unknown || s.WireVersion == nil {
			continue
		}
		if s.WireVersion.Max < minMaxStalenessWireVersion {
			return fmt.Errorf(
				"max staleness requires wire version %d or newer, but server at %s reports %d",
				minMaxStalenessWireVersion, s.Addr, s.WireVersion.Max)
		}
	}

	heartbeatFrequency := estimateHeartbeatFrequency(topo)
	minRequired := heartbeatFrequency + 10*time.Second
	if minRequired < readpref.MinMaxStaleness {
		minRequired = readpref.MinMaxStaleness
	}
	if maxStaleness < minRequired {
		return fmt.Errorf("max staleness (%s) must be at least %s", maxStaleness, minRequired)
	}
	return nil
}

// estimateHeartbeatFrequency is overridden by callers (topology package) that
// know the configured heartbeat frequency; absent that context we fall back
// to the driver default of ten seconds.
var estimateHeartbeatFrequencyOverride time.Duration

func estimateHeartbeatFrequency(Topology) time.Duration {
	if estimateHeartbeatFrequencyOverride > 0 {
		return estimateHeartbeatFrequencyOverride
	}
	return 10 * time.Second
}

// SetHeartbeatFrequencyForStaleness lets the topology package inform the
// staleness estimator of the configured heartbeat frequency.
func SetHeartbeatFrequencyForStaleness(d time.Duration) {
	estimateHeartbeatFrequencyOverride = d
}

// AddrSelector pins selection to a single address, used for getMore and
// killCursors that must reach the cursor's originating server and for pinned transaction sessions.
type AddrSelector struct {
	Addr string
}

// SelectServer selects the server at the pinned address, regardless of its
// current type.
func (as AddrSelector) SelectServer(topo Topology, _ []Server) ([]Server, error) {
	canonical := address.Address(as.Addr).Canonicalize()
	for _, s := range topo.Servers {
		if s.Addr.Canonicalize() == canonical {
			return []Server{s}, nil
		}
	}
	return nil, fmt.Errorf("no server found for address %s", as.Addr)
}

// LatencySelector creates a ServerSelector which selects servers based on
// their average RTT and the given latency window.
type LatencySelector struct {
	Latency time.Duration
}

// SelectServer selects servers based on latency.
func (ls *LatencySelector) SelectServer(topo Topology, candidates []Server) ([]Server, error) {
	if ls.Latency < 0 {
		return candidates, nil
	}
	if len(candidates) == 0 {
		return candidates, nil
	}

	minRTT := candidates[0].AverageRTT
	for _, s := range candidates[1:] {
		if s.AverageRTTSet && (!candidates[0].AverageRTTSet || s.AverageRTT < minRTT) {
			minRTT = s.AverageRTT
		}
	}

	var window []Server
	for _, s := range candidates {
		if !s.AverageRTTSet || s.AverageRTT <= minRTT+ls.Latency {
			window = append(window, s)
		}
	}
	return window, nil
}

// CompositeSelector combines multiple selectors into a single selector, applied
// in order.
func CompositeSelector(selectors []ServerSelector) ServerSelector {
	return ServerSelectorFunc(func(topo Topology, candidates []Server) ([]Server, error) {
		var err error
		for _, sel := range selectors {
			candidates, err = sel.SelectServer(topo, candidates)
			if err != nil {
				return nil, err
			}
			if len(candidates) == 0 {
				return candidates, nil
			}
		}
		return candidates, nil
	})
}
