// Package topology implements server discovery and monitoring: it owns the
// Topology state machine, runs one monitor per address, and implements
// server selection.
package topology

import (
	"context"
	cryptorand "crypto/rand"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dbdrift/topologycore/address"
	"github.com/dbdrift/topologycore/description"
	"github.com/dbdrift/topologycore/event"
	"github.com/dbdrift/topologycore/internal/dns"
	"github.com/dbdrift/topologycore/internal/randutil"
	"github.com/dbdrift/topologycore/x/driver"
)

// Connection states.
const (
	disconnected int64 = iota
	disconnecting
	connected
	connecting
)

// MonitorMode represents the way in which a server is monitored.
type MonitorMode uint8

// Monitoring modes.
const (
	AutomaticMode MonitorMode = iota
	SingleMode
)

// Sentinel errors surfaced by selection and lifecycle methods.
var (
	ErrSubscribeAfterClosed  = errors.New("cannot subscribe after topology is closed")
	ErrTopologyClosed        = errors.New("topology is closed")
	ErrTopologyConnected     = errors.New("topology is connected or connecting")
	ErrServerSelectionTimeout = errors.New("server selection timeout")
)

var randSrc = randutil.NewLockedRand(rand.NewSource(randSeed()))

func randSeed() int64 {
	var b [8]byte
	_, _ = cryptorand.Read(b[:])
	var seed int64
	for _, x := range b {
		seed = seed<<8 | int64(x)
	}
	return seed
}

// ServerSelectionError wraps a selection failure with the topology
// description observed at the time, so callers can report which servers
// were considered.
type ServerSelectionError struct {
	Wrapped error
	Desc    description.Topology
}

func (e ServerSelectionError) Error() string {
	return fmt.Sprintf("server selection error: %s; topology: %s", e.Wrapped, e.Desc)
}
func (e ServerSelectionError) Unwrap() error { return e.Wrapped }

// Topology represents a monitored deployment.
type Topology struct {
	connectionstate int64

	cfg *config

	descMu sync.RWMutex
	desc   description.Topology

	dnsResolver *dns.Resolver

	done chan struct{}

	pollingRequired   bool
	pollingDone       chan struct{}
	pollingWG         sync.WaitGroup
	rescanSRVInterval time.Duration

	updateCallback func(description.Server) description.Server
	fsm            *fsm

	subscribers         map[uint64]chan description.Topology
	currentSubscriberID uint64
	subscriptionsClosed bool
	subLock             sync.Mutex

	serversLock   sync.Mutex
	serversClosed bool
	servers       map[address.Address]*Server
	scanSem       *semaphore.Weighted

	primaryMu      sync.Mutex
	currentPrimary *Server
	primaryValidUntil time.Time

	id string
}

var _ driver.Deployment = (*Topology)(nil)
var _ driver.Subscriber = (*Topology)(nil)

type serverSelectionState struct {
	selector    description.ServerSelector
	timeoutChan <-chan time.Time
}

// New creates a new, unconnected Topology.
func New(opts ...Option) (*Topology, error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	t := &Topology{
		cfg:               cfg,
		done:              make(chan struct{}),
		pollingDone:       make(chan struct{}),
		rescanSRVInterval: 60 * time.Second,
		fsm:               newFSM(),
		subscribers:       make(map[uint64]chan description.Topology),
		servers:           make(map[address.Address]*Server),
		scanSem:           semaphore.NewWeighted(cfg.maxConcurrentScans),
		dnsResolver:       dns.DefaultResolver,
		id:                newTopologyID(),
	}
	t.desc = description.Topology{}
	t.updateCallback = func(desc description.Server) description.Server {
		return t.apply(context.Background(), desc)
	}

	if t.cfg.uri != "" {
		t.pollingRequired = strings.HasPrefix(t.cfg.uri, "mongodb+srv://") && !t.cfg.loadBalanced
	}

	t.publishTopologyOpeningEvent()

	description.SetHeartbeatFrequencyForStaleness(cfg.heartbeatInterval)

	return t, nil
}

func newTopologyID() string {
	var b [12]byte
	_, _ = cryptorand.Read(b[:])
	return fmt.Sprintf("%x", b)
}

// Connect starts the monitoring goroutines; must be called before SelectServer.
func (t *Topology) Connect() error {
	if !atomic.CompareAndSwapInt64(&t.connectionstate, disconnected, connecting) {
		return ErrTopologyConnected
	}

	t.setDesc(description.Topology{})
	t.serversLock.Lock()

	if t.cfg.replicaSetName != "" {
		t.fsm.SetName = t.cfg.replicaSetName
		t.fsm.Kind = description.ReplicaSetNoPrimary
	}
	if t.cfg.mode == SingleMode {
		t.fsm.Kind = description.Single
	}

	for _, a := range t.cfg.seedList {
		addr := address.Address(a).Canonicalize()
		t.fsm.Servers = append(t.fsm.Servers, description.NewDefaultServer(addr))
	}

	switch {
	case t.cfg.loadBalanced:
		t.fsm.Kind = description.LoadBalanced
		t.publishTopologyDescriptionChangedEvent(description.Topology{}, t.fsm.Topology)

		addr := address.Address(t.cfg.seedList[0]).Canonicalize()
		if err := t.addServer(addr); err != nil {
			t.serversLock.Unlock()
			return err
		}
		newServerDesc := t.servers[addr].Description()
		t.publishServerDescriptionChangedEvent(t.fsm.Servers[0], newServerDesc)

		oldDesc := t.fsm.Topology
		t.fsm.Servers = []description.Server{newServerDesc}
		t.setDesc(t.fsm.Topology)
		t.publishTopologyDescriptionChangedEvent(oldDesc, t.fsm.Topology)
	default:
		newDesc := description.Topology{
			Kind:                  t.fsm.Kind,
			Servers:               t.fsm.Servers,
			SessionTimeoutMinutes: t.fsm.SessionTimeoutMinutes,
		}
		t.setDesc(newDesc)
		t.publishTopologyDescriptionChangedEvent(description.Topology{}, t.fsm.Topology)
		for _, a := range t.cfg.seedList {
			addr := address.Address(a).Canonicalize()
			if err := t.addServer(addr); err != nil {
				t.serversLock.Unlock()
				return err
			}
		}
	}

	t.serversLock.Unlock()
	if t.pollingRequired {
		t.pollingWG.Add(1)
		go t.pollSRVRecords()
	}

	t.subscriptionsClosed = false
	atomic.StoreInt64(&t.connectionstate, connected)
	return nil
}

// Disconnect stops monitoring every server and closes all subscriptions.
func (t *Topology) Disconnect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt64(&t.connectionstate, connected, disconnecting) {
		return ErrTopologyClosed
	}

	servers := make(map[address.Address]*Server)
	t.serversLock.Lock()
	t.serversClosed = true
	for addr, s := range t.servers {
		servers[addr] = s
	}
	t.serversLock.Unlock()

	for _, s := range servers {
		_ = s.Disconnect(ctx)
		t.publishServerClosedEvent(s.address)
	}

	t.subLock.Lock()
	for id, ch := range t.subscribers {
		close(ch)
		delete(t.subscribers, id)
	}
	t.subscriptionsClosed = true
	t.subLock.Unlock()

	if t.pollingRequired {
		close(t.pollingDone)
		t.pollingWG.Wait()
	}

	t.setDesc(description.Topology{})
	atomic.StoreInt64(&t.connectionstate, disconnected)
	t.publishTopologyClosedEvent()
	return nil
}

func (t *Topology) setDesc(d description.Topology) {
	t.descMu.Lock()
	t.desc = d
	t.descMu.Unlock()
}

// Description returns the current topology snapshot.
func (t *Topology) Description() description.Topology {
	t.descMu.RLock()
	defer t.descMu.RUnlock()
	return t.desc
}

// Kind implements driver.Deployment.
func (t *Topology) Kind() description.TopologyKind { return t.Description().Kind }

// Subscribe implements driver.Subscriber.
func (t *Topology) Subscribe() (*driver.Subscription, error) {
	if atomic.LoadInt64(&t.connectionstate) != connected {
		return nil, errors.New("cannot subscribe to a Topology that is not connected")
	}
	ch := make(chan description.Topology, 1)
	ch <- t.Description()

	t.subLock.Lock()
	defer t.subLock.Unlock()
	if t.subscriptionsClosed {
		return nil, ErrSubscribeAfterClosed
	}
	id := t.currentSubscriberID
	t.subscribers[id] = ch
	t.currentSubscriberID++

	return &driver.Subscription{Updates: ch, ID: id}, nil
}

// Unsubscribe implements driver.Subscriber.
func (t *Topology) Unsubscribe(sub *driver.Subscription) error {
	t.subLock.Lock()
	defer t.subLock.Unlock()
	if t.subscriptionsClosed {
		return nil
	}
	ch, ok := t.subscribers[sub.ID]
	if !ok {
		return nil
	}
	close(ch)
	delete(t.subscribers, sub.ID)
	return nil
}

// RequestImmediateCheck forces every server's monitor to probe right away.
func (t *Topology) RequestImmediateCheck() {
	if atomic.LoadInt64(&t.connectionstate) != connected {
		return
	}
	t.serversLock.Lock()
	for _, s := range t.servers {
		s.RequestImmediateCheck()
	}
	t.serversLock.Unlock()
}

// ProcessFailure lets the operation executor report an error observed on a
// connection back to the topology: NetworkError and
// NotMaster errors mark the server Unknown so the next scan re-probes it and
// selection forces a rescan.
func (t *Topology) ProcessFailure(addr string, err error, isNetworkError bool, isNotMaster bool) {
	if !isNetworkError && !isNotMaster {
		return
	}
	canon := address.Address(addr).Canonicalize()
	t.serversLock.Lock()
	s, ok := t.servers[canon]
	t.serversLock.Unlock()
	if !ok {
		return
	}
	unknownDesc := description.NewDefaultServer(canon)
	unknownDesc.LastError = err
	unknownDesc.LastUpdateTime = time.Now()
	s.desc.Store(t.updateCallback(unknownDesc))
	t.invalidatePrimaryCache()
	// The topology is now stale: wake the monitors so the next selection
	// attempt sees fresh descriptors.
	s.RequestImmediateCheck()
}

// SelectServer selects a server, honoring the configured
// server-selection timeout and `server_selection_try_once`.
func (t *Topology) SelectServer(ctx context.Context, ss description.ServerSelector) (driver.Server, error) {
	if atomic.LoadInt64(&t.connectionstate) != connected {
		return nil, ErrTopologyClosed
	}

	if cached := t.cachedPrimary(ss); cached != nil {
		return cached, nil
	}

	var ssTimeoutCh <-chan time.Time
	if t.cfg.serverSelectionTimeout > 0 {
		timer := time.NewTimer(t.cfg.serverSelectionTimeout)
		ssTimeoutCh = timer.C
		defer timer.Stop()
	}

	var doneOnce bool
	var sub *driver.Subscription
	state := serverSelectionState{selector: ss, timeoutChan: ssTimeoutCh}

	for {
		var suitable []description.Server
		var err error

		if !doneOnce {
			suitable, err = t.selectFromDescription(t.Description(), state)
			doneOnce = true
		} else {
			if t.cfg.serverSelectionTryOnce {
				return nil, ServerSelectionError{Wrapped: ErrServerSelectionTimeout, Desc: t.Description()}
			}
			if sub == nil {
				sub, err = t.Subscribe()
				if err != nil {
					return nil, err
				}
				defer t.Unsubscribe(sub)
			}
			suitable, err = t.selectFromSubscription(ctx, sub.Updates, state)
		}
		if err != nil {
			return nil, err
		}
		if len(suitable) == 0 {
			continue
		}

		chosen := suitable[randSrc.Intn(len(suitable))]
		selected, err := t.FindServer(chosen)
		if err != nil {
			return nil, err
		}
		if selected != nil {
			t.maybeCachePrimary(selected, ss)
			return selected, nil
		}
	}
}

func (t *Topology) cachedPrimary(ss description.ServerSelector) *SelectedServer {
	if _, ok := ss.(description.WriteSelector); !ok {
		return nil
	}
	t.primaryMu.Lock()
	defer t.primaryMu.Unlock()
	if t.currentPrimary == nil || time.Now().After(t.primaryValidUntil) {
		return nil
	}
	return &SelectedServer{Server: t.currentPrimary, Kind: t.Kind()}
}

func (t *Topology) maybeCachePrimary(s *SelectedServer, ss description.ServerSelector) {
	if _, ok := ss.(description.WriteSelector); !ok {
		return
	}
	topo := t.Description()
	rsMemberCount := 0
	for _, srv := range topo.Servers {
		if srv.Kind == description.RSPrimary || srv.Kind == description.RSSecondary {
			rsMemberCount++
		}
	}
	if topo.Kind == description.ReplicaSetWithPrimary || rsMemberCount == 1 {
		t.primaryMu.Lock()
		t.currentPrimary = s.Server.(*Server)
		t.primaryValidUntil = time.Now().Add(t.cfg.heartbeatInterval)
		t.primaryMu.Unlock()
	}
}

func (t *Topology) invalidatePrimaryCache() {
	t.primaryMu.Lock()
	t.currentPrimary = nil
	t.primaryMu.Unlock()
}

// FindServer looks up the live *Server backing a selected description.
func (t *Topology) FindServer(selected description.Server) (*SelectedServer, error) {
	if atomic.LoadInt64(&t.connectionstate) != connected {
		return nil, ErrTopologyClosed
	}
	t.serversLock.Lock()
	defer t.serversLock.Unlock()
	s, ok := t.servers[selected.Addr]
	if !ok {
		return nil, nil
	}
	return &SelectedServer{Server: s, Kind: t.Description().Kind}, nil
}

// SelectedServer implements driver.Server and carries the topology kind at
// selection time, since command building can depend on both.
type SelectedServer struct {
	driver.Server
	Kind description.TopologyKind
}

// TopologyKind reports the topology kind observed at selection time; the
// operation layer uses it for the mongos read-preference passthrough.
func (ss *SelectedServer) TopologyKind() description.TopologyKind { return ss.Kind }

func (t *Topology) selectFromSubscription(ctx context.Context, ch <-chan description.Topology, state serverSelectionState) ([]description.Server, error) {
	current := t.Description()
	for {
		select {
		case <-ctx.Done():
			return nil, ServerSelectionError{Wrapped: ctx.Err(), Desc: current}
		case <-state.timeoutChan:
			return nil, ServerSelectionError{Wrapped: ErrServerSelectionTimeout, Desc: current}
		case current = <-ch:
		}

		suitable, err := t.selectFromDescription(current, state)
		if err != nil {
			return nil, err
		}
		if len(suitable) > 0 {
			return suitable, nil
		}
		t.RequestImmediateCheck()
	}
}

func (t *Topology) selectFromDescription(desc description.Topology, state serverSelectionState) ([]description.Server, error) {
	if desc.CompatibilityErr != nil {
		return nil, driver.ProtocolError{Message: desc.CompatibilityErr.Error()}
	}
	if desc.Kind == description.LoadBalanced {
		return desc.Servers, nil
	}

	var allowed []description.Server
	for _, s := range desc.Servers {
		if s.Kind != description.Unknown {
			allowed = append(allowed, s)
		}
	}

	suitable, err := state.selector.SelectServer(desc, allowed)
	if err != nil {
		return nil, ServerSelectionError{Wrapped: err, Desc: desc}
	}
	return suitable, nil
}

func (t *Topology) pollSRVRecords() {
	defer t.pollingWG.Done()

	serverCfg, _ := newServerConfig(t.cfg.serverOpts...)
	heartbeatInterval := serverCfg.heartbeatInterval

	pollTicker := time.NewTicker(t.rescanSRVInterval)
	defer pollTicker.Stop()
	fastPoll := false

	uri := strings.TrimPrefix(t.cfg.uri, "mongodb+srv://")
	hosts := uri
	if idx := strings.IndexAny(uri, "/?@"); idx != -1 {
		hosts = uri[:idx]
	}

	for {
		select {
		case <-pollTicker.C:
		case <-t.pollingDone:
			return
		}

		kind := t.Description().Kind
		if kind != description.TopologyKindUnknown && kind != description.Sharded {
			return
		}

		parsedHosts, err := t.dnsResolver.ParseHosts(hosts, t.cfg.srvServiceName, false)
		if err != nil || len(parsedHosts) == 0 {
			if !fastPoll {
				pollTicker.Stop()
				pollTicker = time.NewTicker(heartbeatInterval)
				fastPoll = true
			}
			continue
		}
		if fastPoll {
			pollTicker.Stop()
			pollTicker = time.NewTicker(t.rescanSRVInterval)
			fastPoll = false
		}

		if !t.processSRVResults(parsedHosts) {
			return
		}
	}
}

func (t *Topology) processSRVResults(parsedHosts []string) bool {
	t.serversLock.Lock()
	defer t.serversLock.Unlock()

	if t.serversClosed {
		return false
	}
	prev := t.fsm.Topology
	diff := diffHostList(t.fsm.Topology, parsedHosts)
	if len(diff.Added) == 0 && len(diff.Removed) == 0 {
		return true
	}

	for _, r := range diff.Removed {
		addr := address.Address(r).Canonicalize()
		s, ok := t.servers[addr]
		if !ok {
			continue
		}
		go func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_ = s.Disconnect(ctx)
		}()
		delete(t.servers, addr)
		t.fsm.removeServerByAddr(addr)
		t.publishServerClosedEvent(s.address)
	}

	if t.cfg.srvMaxHosts > 0 && len(t.servers)+len(diff.Added) > t.cfg.srvMaxHosts {
		randSrc.Shuffle(len(diff.Added), func(i, j int) { diff.Added[i], diff.Added[j] = diff.Added[j], diff.Added[i] })
	}
	for _, a := range diff.Added {
		if t.cfg.srvMaxHosts > 0 && len(t.servers) >= t.cfg.srvMaxHosts {
			break
		}
		addr := address.Address(a).Canonicalize()
		_ = t.addServer(addr)
		t.fsm.addServer(addr)
	}

	newDesc := description.Topology{Kind: t.fsm.Kind, Servers: t.fsm.Servers, SessionTimeoutMinutes: t.fsm.SessionTimeoutMinutes}
	t.setDesc(newDesc)
	if !prev.Equal(newDesc) {
		t.publishTopologyDescriptionChangedEvent(prev, newDesc)
	}
	t.broadcast(newDesc)
	return true
}

func (t *Topology) broadcast(desc description.Topology) {
	t.subLock.Lock()
	defer t.subLock.Unlock()
	for _, ch := range t.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- desc
	}
}

// apply folds a freshly observed server descriptor into the topology,
// publishing change events as needed.
func (t *Topology) apply(ctx context.Context, desc description.Server) description.Server {
	t.serversLock.Lock()
	defer t.serversLock.Unlock()

	idx, ok := t.fsm.findServer(desc.Addr)
	if t.serversClosed || !ok {
		return desc
	}

	prev := t.fsm.Topology
	oldDesc := t.fsm.Servers[idx]
	if oldDesc.TopologyVersion.CompareToIncoming(desc.TopologyVersion) > 0 {
		return oldDesc
	}

	current, appliedDesc := t.fsm.apply(desc)

	if !oldDesc.Equal(appliedDesc) {
		t.publishServerDescriptionChangedEvent(oldDesc, appliedDesc)
	}

	diff := diffTopology(prev, current)
	for _, removed := range diff.Removed {
		if s, ok := t.servers[removed.Addr]; ok {
			go func() {
				cctx, cancel := context.WithCancel(ctx)
				cancel()
				_ = s.Disconnect(cctx)
			}()
			delete(t.servers, removed.Addr)
			t.publishServerClosedEvent(s.address)
		}
	}
	for _, added := range diff.Added {
		_ = t.addServer(added.Addr)
	}

	if err := (&current).CheckCompatible(); err != nil {
		// CompatibilityErr is stored on current by CheckCompatible itself.
		_ = err
	}

	t.setDesc(current)
	if !prev.Equal(current) {
		t.publishTopologyDescriptionChangedEvent(prev, current)
	}
	t.broadcast(current)

	return appliedDesc
}

func (t *Topology) addServer(addr address.Address) error {
	if _, ok := t.servers[addr]; ok {
		return nil
	}
	// Topology-wide timing goes first so per-server options can override it.
	timing := func(c *serverConfig) error {
		if t.cfg.heartbeatInterval > 0 {
			c.heartbeatInterval = t.cfg.heartbeatInterval
		}
		if t.cfg.connectTimeout > 0 {
			c.connectTimeout = t.cfg.connectTimeout
		}
		return nil
	}
	opts := append(append([]ServerOption{timing}, t.cfg.serverOpts...), withScanSemaphore(t.scanSem))
	s, err := ConnectServer(addr, t.updateCallback, t.id, opts...)
	if err != nil {
		return err
	}
	t.servers[addr] = s
	return nil
}

// String implements fmt.Stringer.
func (t *Topology) String() string {
	desc := t.Description()
	var b strings.Builder
	t.serversLock.Lock()
	defer t.serversLock.Unlock()
	for _, s := range t.servers {
		b.WriteString("{ ")
		b.WriteString(s.String())
		b.WriteString(" }, ")
	}
	return fmt.Sprintf("Type: %s, Servers: [%s]", desc.Kind, b.String())
}

func (t *Topology) publishServerDescriptionChangedEvent(prev, current description.Server) {
	if t.cfg.serverMonitor == nil || t.cfg.serverMonitor.ServerDescriptionChanged == nil {
		return
	}
	t.cfg.serverMonitor.ServerDescriptionChanged(&event.ServerDescriptionChangedEvent{
		Address: current.Addr, TopologyID: t.id, PreviousDescription: prev, NewDescription: current,
	})
}

func (t *Topology) publishServerClosedEvent(addr address.Address) {
	if t.cfg.serverMonitor == nil || t.cfg.serverMonitor.ServerClosed == nil {
		return
	}
	t.cfg.serverMonitor.ServerClosed(&event.ServerClosedEvent{Address: addr, TopologyID: t.id})
}

func (t *Topology) publishTopologyDescriptionChangedEvent(prev, current description.Topology) {
	if t.cfg.serverMonitor == nil || t.cfg.serverMonitor.TopologyDescriptionChanged == nil {
		return
	}
	t.cfg.serverMonitor.TopologyDescriptionChanged(&event.TopologyDescriptionChangedEvent{
		TopologyID: t.id, PreviousDescription: prev, NewDescription: current,
	})
}

func (t *Topology) publishTopologyOpeningEvent() {
	if t.cfg.serverMonitor == nil || t.cfg.serverMonitor.TopologyOpening == nil {
		return
	}
	t.cfg.serverMonitor.TopologyOpening(&event.TopologyOpeningEvent{TopologyID: t.id})
}

func (t *Topology) publishTopologyClosedEvent() {
	if t.cfg.serverMonitor == nil || t.cfg.serverMonitor.TopologyClosed == nil {
		return
	}
	t.cfg.serverMonitor.TopologyClosed(&event.TopologyClosedEvent{TopologyID: t.id})
}
