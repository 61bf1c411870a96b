package topology

import (
	"crypto/tls"
	"time"

	"github.com/dbdrift/topologycore/event"
)

// Default timing constants for monitoring and selection.
const (
	DefaultHeartbeatInterval   = 10 * time.Second
	MinHeartbeatFrequency      = 500 * time.Millisecond
	CooldownPeriod             = 5 * time.Second
	DefaultLocalThreshold      = 15 * time.Millisecond
	DefaultServerSelectionTimeout = 30 * time.Second
	DefaultConnectTimeout      = 30 * time.Second
)

// config holds the resolved settings for a Topology, built from Options.
type config struct {
	mode                   MonitorMode
	replicaSetName         string
	seedList               []string
	uri                    string
	loadBalanced           bool
	srvMaxHosts            int
	srvServiceName         string
	serverSelectionTimeout time.Duration
	serverSelectionTryOnce bool
	localThreshold         time.Duration
	heartbeatInterval      time.Duration
	connectTimeout         time.Duration
	socketTimeout          time.Duration
	tlsConfig              *tls.Config
	compressors            []string
	serverMonitor          *event.ServerMonitor
	serverOpts             []ServerOption
	maxConcurrentScans     int64
}

// Option configures a Topology.
type Option func(*config) error

func newConfig(opts ...Option) (*config, error) {
	cfg := &config{
		serverSelectionTimeout: DefaultServerSelectionTimeout,
		localThreshold:         DefaultLocalThreshold,
		heartbeatInterval:      DefaultHeartbeatInterval,
		connectTimeout:         DefaultConnectTimeout,
		srvServiceName:         "mongodb",
		maxConcurrentScans:     50,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// WithSeedList sets the initial list of addresses to probe.
func WithSeedList(seeds ...string) Option {
	return func(c *config) error { c.seedList = seeds; return nil }
}

// WithReplicaSetName sets the expected replica set name, which seeds the
// topology as ReplicaSetNoPrimary rather than Unknown.
func WithReplicaSetName(name string) Option {
	return func(c *config) error { c.replicaSetName = name; return nil }
}

// WithMonitorMode sets the monitoring mode (Automatic vs direct Single).
func WithMonitorMode(mode MonitorMode) Option {
	return func(c *config) error { c.mode = mode; return nil }
}

// WithURI records the original connection string, used to decide whether
// DNS-seedlist polling is required.
func WithURI(uri string) Option {
	return func(c *config) error { c.uri = uri; return nil }
}

// WithLoadBalanced marks the deployment as a load balancer frontend.
func WithLoadBalanced(lb bool) Option {
	return func(c *config) error { c.loadBalanced = lb; return nil }
}

// WithSRVMaxHosts bounds how many hosts a mongodb+srv:// seedlist will expand to.
func WithSRVMaxHosts(n int) Option {
	return func(c *config) error { c.srvMaxHosts = n; return nil }
}

// WithServerSelectionTimeout sets the per-attempt selection budget.
func WithServerSelectionTimeout(d time.Duration) Option {
	return func(c *config) error { c.serverSelectionTimeout = d; return nil }
}

// WithServerSelectionTryOnce disables the retry loop in SelectServer,
// so a single scan and attempt is made.
func WithServerSelectionTryOnce(once bool) Option {
	return func(c *config) error { c.serverSelectionTryOnce = once; return nil }
}

// WithLocalThreshold records the latency window in the topology's
// configuration. Selection does not read it: a LatencySelector carries its
// own window in its Latency field.
func WithLocalThreshold(d time.Duration) Option {
	return func(c *config) error { c.localThreshold = d; return nil }
}

// WithHeartbeatInterval sets the monitor's steady-state heartbeat frequency.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *config) error { c.heartbeatInterval = d; return nil }
}

// WithConnectTimeout sets the time budget of each monitor probe; a per-server
// WithServerConnectTimeout overrides it. Application connections take their
// dial timeout from the Dialer.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *config) error { c.connectTimeout = d; return nil }
}

// WithCompressors records the compressor list in the topology's
// configuration. The topology does not read it; the list advertised in the
// handshake is the one configured on the connection Dialer.
func WithCompressors(names ...string) Option {
	return func(c *config) error { c.compressors = names; return nil }
}

// WithServerMonitor installs the SDAM event sink.
func WithServerMonitor(m *event.ServerMonitor) Option {
	return func(c *config) error { c.serverMonitor = m; return nil }
}

// WithServerOptions threads options through to each per-address Server.
func WithServerOptions(opts ...ServerOption) Option {
	return func(c *config) error { c.serverOpts = append(c.serverOpts, opts...); return nil }
}

// WithMaxConcurrentScans bounds how many of this topology's per-address
// monitors may have a hello probe in flight at once
// concurrency model (one monitor task per server, but establishment/probing
// across a large seed list is throttled so it doesn't open hundreds of
// sockets in the same instant).
func WithMaxConcurrentScans(n int64) Option {
	return func(c *config) error { c.maxConcurrentScans = n; return nil }
}
