package description

import (
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/dbdrift/topologycore/address"
	"github.com/dbdrift/topologycore/readpref"
	"github.com/dbdrift/topologycore/tag"
)

func rsServer(addr string, kind ServerKind, rtt time.Duration) Server {
	s := NewServer(address.Address(addr))
	s.Kind = kind
	s.AverageRTT = rtt
	s.AverageRTTSet = true
	vr := NewVersionRange(6, 17)
	s.WireVersion = &vr
	return s
}

func addrNames(servers []Server) []string {
	out := make([]string, 0, len(servers))
	for _, s := range servers {
		out = append(out, string(s.Addr))
	}
	return out
}

func TestWriteSelector(t *testing.T) {
	topo := Topology{Kind: ReplicaSetWithPrimary}
	candidates := []Server{
		rsServer("p:27017", RSPrimary, time.Millisecond),
		rsServer("s1:27017", RSSecondary, time.Millisecond),
		rsServer("a:27017", RSArbiter, time.Millisecond),
	}
	got, err := WriteSelector{}.SelectServer(topo, candidates)
	if err != nil {
		t.Fatalf("SelectServer error: %v", err)
	}
	if diff := cmp.Diff([]string{"p:27017"}, addrNames(got)); diff != "" {
		t.Errorf("writable servers mismatch (-want +got):\n%s", diff)
	}
}

// A primaryPreferred read against a topology with no primary returns the
// secondaries, and the latency window keeps only servers within the local
// threshold of the fastest.
func TestPrimaryPreferredFallsBackToNearestSecondary(t *testing.T) {
	topo := Topology{Kind: ReplicaSetNoPrimary}
	candidates := []Server{
		rsServer("fast:27017", RSSecondary, 5*time.Millisecond),
		rsServer("slow:27017", RSSecondary, 50*time.Millisecond),
	}
	topo.Servers = candidates

	selector := CompositeSelector([]ServerSelector{
		ReadPrefSelectorFn(readpref.PrimaryPreferred()),
		&LatencySelector{Latency: 15 * time.Millisecond},
	})
	got, err := selector.SelectServer(topo, candidates)
	if err != nil {
		t.Fatalf("SelectServer error: %v", err)
	}
	if diff := cmp.Diff([]string{"fast:27017"}, addrNames(got)); diff != "" {
		t.Errorf("selection mismatch (-want +got):\n%s\n%s", diff, spew.Sdump(got))
	}
}

func TestLatencyWindowAlwaysIncludesFastest(t *testing.T) {
	candidates := []Server{
		rsServer("a:1", RSSecondary, 10*time.Millisecond),
		rsServer("b:1", RSSecondary, 20*time.Millisecond),
		rsServer("c:1", RSSecondary, 26*time.Millisecond),
	}
	ls := &LatencySelector{Latency: 15 * time.Millisecond}
	got, err := ls.SelectServer(Topology{}, candidates)
	if err != nil {
		t.Fatalf("SelectServer error: %v", err)
	}
	// fastest is 10ms; window admits <= 25ms.
	if diff := cmp.Diff([]string{"a:1", "b:1"}, addrNames(got)); diff != "" {
		t.Errorf("window mismatch (-want +got):\n%s", diff)
	}
}

func TestLatencyWindowZeroThreshold(t *testing.T) {
	candidates := []Server{
		rsServer("a:1", RSSecondary, 10*time.Millisecond),
		rsServer("b:1", RSSecondary, 11*time.Millisecond),
	}
	ls := &LatencySelector{Latency: 0}
	got, _ := ls.SelectServer(Topology{}, candidates)
	if diff := cmp.Diff([]string{"a:1"}, addrNames(got)); diff != "" {
		t.Errorf("zero threshold should admit only the minimum-RTT server (-want +got):\n%s", diff)
	}
}

func TestTagSetsAppliedInOrder(t *testing.T) {
	east := rsServer("east:1", RSSecondary, time.Millisecond)
	east.Tags = tag.Set{{Name: "dc", Value: "east"}}
	west := rsServer("west:1", RSSecondary, time.Millisecond)
	west.Tags = tag.Set{{Name: "dc", Value: "west"}}

	topo := Topology{Kind: ReplicaSetNoPrimary, Servers: []Server{east, west}}

	// First tag set matches nothing; second matches west. The first tag set
	// with any match wins.
	rp := readpref.Secondary(readpref.WithTagSets(
		tag.Set{{Name: "dc", Value: "north"}},
		tag.Set{{Name: "dc", Value: "west"}},
	))
	got, err := ReadPrefSelectorFn(rp).SelectServer(topo, topo.Servers)
	if err != nil {
		t.Fatalf("SelectServer error: %v", err)
	}
	if diff := cmp.Diff([]string{"west:1"}, addrNames(got)); diff != "" {
		t.Errorf("tag set selection mismatch (-want +got):\n%s", diff)
	}
}

// Staleness scenario from the selection algorithm: primary
// last_write=1000, last_update=1010; secondary last_write=900,
// last_update=1005; heartbeat=10s. Estimated staleness is
// 1000+(1005-1010)-900+10 = 105 seconds.
func TestMaxStalenessWithPrimary(t *testing.T) {
	prevHeartbeat := estimateHeartbeatFrequencyOverride
	SetHeartbeatFrequencyForStaleness(10 * time.Second)
	defer SetHeartbeatFrequencyForStaleness(prevHeartbeat)

	base := time.Unix(0, 0)
	primary := rsServer("p:1", RSPrimary, time.Millisecond)
	primary.LastWriteTime = base.Add(1000 * time.Second)
	primary.LastUpdateTime = base.Add(1010 * time.Second)

	secondary := rsServer("s:1", RSSecondary, time.Millisecond)
	secondary.LastWriteTime = base.Add(900 * time.Second)
	secondary.LastUpdateTime = base.Add(1005 * time.Second)

	topo := Topology{Kind: ReplicaSetWithPrimary, Servers: []Server{primary, secondary}}

	for _, tc := range []struct {
		maxStaleness time.Duration
		eligible     bool
	}{
		{120 * time.Second, true},
		{90 * time.Second, false},
	} {
		rp := readpref.Secondary(readpref.WithMaxStaleness(tc.maxStaleness))
		got, err := ReadPrefSelectorFn(rp).SelectServer(topo, topo.Servers)
		if err != nil {
			t.Fatalf("maxStaleness=%s: SelectServer error: %v", tc.maxStaleness, err)
		}
		found := false
		for _, s := range got {
			if s.Addr == "s:1" {
				found = true
			}
		}
		if found != tc.eligible {
			t.Errorf("maxStaleness=%s: secondary eligibility = %v, want %v", tc.maxStaleness, found, tc.eligible)
		}
	}
}

// A server that just replied is never filtered out when
// max_staleness >= 90s + heartbeat.
func TestMaxStalenessFreshServerAlwaysEligible(t *testing.T) {
	prevHeartbeat := estimateHeartbeatFrequencyOverride
	SetHeartbeatFrequencyForStaleness(10 * time.Second)
	defer SetHeartbeatFrequencyForStaleness(prevHeartbeat)

	now := time.Now()
	primary := rsServer("p:1", RSPrimary, time.Millisecond)
	primary.LastWriteTime = now
	primary.LastUpdateTime = now
	secondary := rsServer("s:1", RSSecondary, time.Millisecond)
	secondary.LastWriteTime = now
	secondary.LastUpdateTime = now

	topo := Topology{Kind: ReplicaSetWithPrimary, Servers: []Server{primary, secondary}}
	rp := readpref.Secondary(readpref.WithMaxStaleness(100 * time.Second))
	got, err := ReadPrefSelectorFn(rp).SelectServer(topo, topo.Servers)
	if err != nil {
		t.Fatalf("SelectServer error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("fresh secondary filtered out: %s", spew.Sdump(got))
	}
}

func TestMaxStalenessValidation(t *testing.T) {
	prevHeartbeat := estimateHeartbeatFrequencyOverride
	SetHeartbeatFrequencyForStaleness(10 * time.Second)
	defer SetHeartbeatFrequencyForStaleness(prevHeartbeat)

	topo := Topology{Kind: ReplicaSetWithPrimary, Servers: []Server{
		rsServer("s:1", RSSecondary, time.Millisecond),
	}}
	// 30s < max(90s, heartbeat+10s) must be rejected.
	rp := readpref.Secondary(readpref.WithMaxStaleness(30 * time.Second))
	if _, err := ReadPrefSelectorFn(rp).SelectServer(topo, topo.Servers); err == nil {
		t.Error("expected validation error for too-small maxStalenessSeconds")
	}
}

// Max-staleness reads require every known server to speak wire version 5
// or newer; older servers cannot report the lastWrite date the estimate
// needs.
func TestMaxStalenessRequiresWireVersion(t *testing.T) {
	prevHeartbeat := estimateHeartbeatFrequencyOverride
	SetHeartbeatFrequencyForStaleness(10 * time.Second)
	defer SetHeartbeatFrequencyForStaleness(prevHeartbeat)

	now := time.Now()
	primary := rsServer("p:1", RSPrimary, time.Millisecond)
	primary.LastWriteTime = now
	primary.LastUpdateTime = now
	old := rsServer("old:1", RSSecondary, time.Millisecond)
	old.LastWriteTime = now
	old.LastUpdateTime = now
	vr := NewVersionRange(0, 4)
	old.WireVersion = &vr

	topo := Topology{Kind: ReplicaSetWithPrimary, Servers: []Server{primary, old}}
	rp := readpref.Secondary(readpref.WithMaxStaleness(120 * time.Second))
	if _, err := ReadPrefSelectorFn(rp).SelectServer(topo, topo.Servers); err == nil {
		t.Error("expected error for max staleness against a pre-wire-version-5 server")
	}
}

func TestCompatibilityCheck(t *testing.T) {
	tooOld := rsServer("old:1", RSSecondary, time.Millisecond)
	vr := NewVersionRange(0, 3)
	tooOld.WireVersion = &vr

	topo := Topology{Kind: ReplicaSetNoPrimary, Servers: []Server{tooOld}}
	if err := (&topo).CheckCompatible(); err == nil {
		t.Error("expected wire version incompatibility error")
	}
	if topo.CompatibilityErr == nil {
		t.Error("CompatibilityErr not stored")
	}

	fine := rsServer("new:1", RSSecondary, time.Millisecond)
	topo2 := Topology{Kind: ReplicaSetNoPrimary, Servers: []Server{fine}}
	if err := (&topo2).CheckCompatible(); err != nil {
		t.Errorf("unexpected incompatibility: %v", err)
	}
}

func TestAddrSelector(t *testing.T) {
	topo := Topology{Servers: []Server{
		rsServer("a:27017", RSSecondary, time.Millisecond),
		rsServer("b:27017", RSPrimary, time.Millisecond),
	}}
	got, err := AddrSelector{Addr: "B:27017"}.SelectServer(topo, nil)
	if err != nil {
		t.Fatalf("SelectServer error: %v", err)
	}
	want := []Server{topo.Servers[1]}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(Server{}, "LastUpdateTime", "LastError")); diff != "" {
		t.Errorf("pinned selection mismatch (-want +got):\n%s", diff)
	}

	if _, err := (AddrSelector{Addr: "missing:1"}).SelectServer(topo, nil); err == nil {
		t.Error("expected error for unknown pinned address")
	}
}
