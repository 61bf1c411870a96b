package topology

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dbdrift/topologycore/address"
	"github.com/dbdrift/topologycore/description"
	"github.com/dbdrift/topologycore/x/driver"
)

// failDialer always fails, so monitors mark their servers Unknown and the
// tests below can drive topology state by hand through the update callback.
type failDialer struct{}

func (failDialer) DialMonitor(ctx context.Context, addr address.Address) (MonitorConnection, error) {
	return nil, errors.New("dial refused")
}

func (failDialer) DialApplication(ctx context.Context, addr address.Address) (driver.Connection, error) {
	return nil, errors.New("dial refused")
}

func newTestTopology(t *testing.T, seeds ...string) *Topology {
	t.Helper()
	topo, err := New(
		WithSeedList(seeds...),
		WithHeartbeatInterval(time.Hour), // keep monitors quiet during the test
		WithConnectTimeout(10*time.Millisecond),
		WithServerSelectionTimeout(20*time.Millisecond),
		WithServerSelectionTryOnce(true),
		WithServerOptions(WithDialer(failDialer{})),
	)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := topo.Connect(); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	t.Cleanup(func() { _ = topo.Disconnect(context.Background()) })
	// Let the initial (failing) monitor probes land before the test drives
	// the topology by hand; afterwards the monitors are in cooldown.
	time.Sleep(50 * time.Millisecond)
	return topo
}

func primaryDesc(addr, setName string, hosts ...string) description.Server {
	d := description.NewDefaultServer(address.Address(addr).Canonicalize())
	d.Kind = description.RSPrimary
	d.SetName = setName
	d.Hosts = hosts
	vr := description.NewVersionRange(6, 17)
	d.WireVersion = &vr
	return d
}

// A write command failing with a not-master error must mark the server
// Unknown so the next selection forces a rescan.
func TestProcessFailureMarksServerUnknown(t *testing.T) {
	topo := newTestTopology(t, "h1:27017", "h2:27017")

	topo.apply(context.Background(), primaryDesc("h1:27017", "rs0", "h1:27017", "h2:27017"))
	if topo.Description().Kind != description.ReplicaSetWithPrimary {
		t.Fatalf("setup: topology kind is %s", topo.Description().Kind)
	}

	notMaster := driver.Error{Code: 10107, Message: "not master"}
	topo.ProcessFailure("h1:27017", notMaster, false, true)

	desc := topo.Description()
	if desc.Kind != description.ReplicaSetNoPrimary {
		t.Errorf("kind after not-master: want ReplicaSetNoPrimary, got %s", desc.Kind)
	}
	for _, s := range desc.Servers {
		if s.Addr == "h1:27017" && s.Kind != description.Unknown {
			t.Errorf("server after not-master: want Unknown, got %s", s.Kind)
		}
	}
}

// Errors that do not implicate the server's health leave the topology alone.
func TestProcessFailureIgnoresBenignErrors(t *testing.T) {
	topo := newTestTopology(t, "h1:27017")

	topo.apply(context.Background(), primaryDesc("h1:27017", "rs0", "h1:27017"))
	before := topo.Description()

	topo.ProcessFailure("h1:27017", errors.New("duplicate key"), false, false)
	after := topo.Description()
	if !before.Equal(after) {
		t.Error("benign error mutated the topology")
	}
}

// Adopting a primary that advertises a new host starts monitoring it, and a
// host dropped from the set is removed.
func TestApplyReconcilesMonitoredServers(t *testing.T) {
	topo := newTestTopology(t, "h1:27017", "gone:27017")

	topo.apply(context.Background(), primaryDesc("h1:27017", "rs0", "h1:27017", "h2:27017"))

	topo.serversLock.Lock()
	_, hasNew := topo.servers[address.Address("h2:27017").Canonicalize()]
	_, hasGone := topo.servers[address.Address("gone:27017").Canonicalize()]
	topo.serversLock.Unlock()

	if !hasNew {
		t.Error("newly advertised member is not monitored")
	}
	if hasGone {
		t.Error("member dropped from the set is still monitored")
	}
}

// Selection against a topology with no suitable server times out with a
// ServerSelectionError when try-once is set.
func TestSelectServerTryOnceTimesOut(t *testing.T) {
	topo := newTestTopology(t, "h1:27017")

	_, err := topo.SelectServer(context.Background(), description.WriteSelector{})
	var ssErr ServerSelectionError
	if !errors.As(err, &ssErr) {
		t.Fatalf("want ServerSelectionError, got %v", err)
	}
}

// An incompatible wire version surfaces as a ProtocolError from selection
// rather than a timeout.
func TestSelectServerIncompatible(t *testing.T) {
	topo := newTestTopology(t, "h1:27017")

	old := primaryDesc("h1:27017", "rs0", "h1:27017")
	vr := description.NewVersionRange(0, 3)
	old.WireVersion = &vr
	topo.apply(context.Background(), old)

	_, err := topo.SelectServer(context.Background(), description.WriteSelector{})
	var protoErr driver.ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("want ProtocolError, got %v", err)
	}
}
