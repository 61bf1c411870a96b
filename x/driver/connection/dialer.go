package connection

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/dbdrift/topologycore/address"
	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
	"github.com/dbdrift/topologycore/x/driver"
	"github.com/dbdrift/topologycore/x/driver/topology"
	"github.com/dbdrift/topologycore/x/driver/wiremessage"
)

// Handshaker finishes a freshly dialed link, typically by authenticating
// over it. Installed by the client facade so this package stays independent
// of the auth package.
type Handshaker func(ctx context.Context, conn driver.Connection, hr *HandshakeResult) error

// config holds the per-link settings resolved by the client facade.
type config struct {
	connectTimeout time.Duration
	socketTimeout  time.Duration
	idleTimeout    time.Duration
	tlsConfig      *tls.Config
	ocspOptions    *OCSPOptions
	appName        string
	compressors    []string
	zlibLevel      int
	zstdLevel      int
	principal      string // "db.user" for saslSupportedMechs negotiation
	loadBalanced   bool
	handshaker     Handshaker
	clusterTimeFn  func(bsoncore.Document) // receives gossipped $clusterTime
}

// Option configures a Dialer.
type Option func(*config) error

func newDialerConfig(opts ...Option) (*config, error) {
	cfg := &config{
		connectTimeout: 30 * time.Second,
		idleTimeout:    10 * time.Minute,
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

// WithConnectTimeout sets the TCP/TLS establishment budget.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *config) error { c.connectTimeout = d; return nil }
}

// WithSocketTimeout sets the per-read/per-write budget.
func WithSocketTimeout(d time.Duration) Option {
	return func(c *config) error { c.socketTimeout = d; return nil }
}

// WithIdleTimeout sets how long a link may sit unused before it is
// considered stale.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *config) error { c.idleTimeout = d; return nil }
}

// WithTLSConfig enables TLS with the given configuration.
func WithTLSConfig(tlsCfg *tls.Config) Option {
	return func(c *config) error { c.tlsConfig = tlsCfg; return nil }
}

// WithOCSPOptions configures revocation checking.
func WithOCSPOptions(o *OCSPOptions) Option {
	return func(c *config) error { c.ocspOptions = o; return nil }
}

// WithAppName sets the application name sent in the client metadata document.
func WithAppName(name string) Option {
	return func(c *config) error { c.appName = name; return nil }
}

// WithCompressors sets the compressor preference list.
func WithCompressors(names []string) Option {
	return func(c *config) error { c.compressors = names; return nil }
}

// WithZlibLevel sets the zlib compression level.
func WithZlibLevel(level int) Option {
	return func(c *config) error { c.zlibLevel = level; return nil }
}

// WithZstdLevel sets the zstd compression level.
func WithZstdLevel(level int) Option {
	return func(c *config) error { c.zstdLevel = level; return nil }
}

// WithPrincipal sets the "db.user" principal included as the
// saslSupportedMechs hint on the handshake.
func WithPrincipal(p string) Option {
	return func(c *config) error { c.principal = p; return nil }
}

// WithHandshaker installs the post-hello handshake step (authentication).
func WithHandshaker(h Handshaker) Option {
	return func(c *config) error { c.handshaker = h; return nil }
}

// WithClusterTimeCallback installs a sink for $clusterTime documents seen in
// handshake replies, so the client's cluster clock advances from the very
// first hello.
func WithClusterTimeCallback(fn func(bsoncore.Document)) Option {
	return func(c *config) error { c.clusterTimeFn = fn; return nil }
}

// Dialer dials and fully establishes Links; it implements topology.Dialer.
type Dialer struct {
	cfg *config
}

var _ topology.Dialer = (*Dialer)(nil)

// NewDialer creates a Dialer from the given options.
func NewDialer(opts ...Option) (*Dialer, error) {
	cfg, err := newDialerConfig(opts...)
	if err != nil {
		return nil, err
	}
	return &Dialer{cfg: cfg}, nil
}

// DialMonitor establishes a link for monitor probes: TCP/TLS only. No hello
// is sent here (the monitor sends its own probe), and the link is never
// authenticated or compressed.
func (d *Dialer) DialMonitor(ctx context.Context, addr address.Address) (topology.MonitorConnection, error) {
	conn := newConnection(addr, d.cfg)
	// Probe socket timeout equals the connect timeout.
	conn.readTimeout = d.cfg.connectTimeout
	conn.writeTimeout = d.cfg.connectTimeout
	if err := conn.connect(ctx, d.cfg); err != nil {
		return nil, err
	}
	return &monitorConnection{conn: conn}, nil
}

// DialApplication establishes a fully negotiated, authenticated link for
// application operations.
func (d *Dialer) DialApplication(ctx context.Context, addr address.Address) (driver.Connection, error) {
	conn := newConnection(addr, d.cfg)
	if err := conn.connect(ctx, d.cfg); err != nil {
		return nil, err
	}

	hr, err := conn.performHandshake(ctx, handshakeOptions{
		appName:     d.cfg.appName,
		compressors: d.cfg.compressors,
		username:    d.cfg.principal,
	})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	conn.zlibLevel = d.cfg.zlibLevel
	conn.zstdLevel = d.cfg.zstdLevel
	if d.cfg.clusterTimeFn != nil && hr.ClusterTime != nil {
		d.cfg.clusterTimeFn(hr.ClusterTime)
	}

	if d.cfg.handshaker != nil {
		if err := d.cfg.handshaker(ctx, conn, hr); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

// Ping issues a cheap {ping: 1} over the link, used by selection to validate
// links idle past the socket-check interval.
func (c *connection) Ping(ctx context.Context) error {
	body := bsoncore.AppendInt32Element(nil, "ping", 1)
	extra := bsoncore.AppendStringElement(nil, "$db", "admin")
	cmd := bsoncore.BuildDocument(nil, body, extra)

	wm := encodeHandshakeMessage(bsoncore.Document(cmd))
	if err := c.WriteWireMessage(ctx, wm); err != nil {
		return err
	}
	_, err := c.ReadWireMessage(ctx)
	return err
}

// monitorConnection narrows a connection to the probe surface the topology
// package needs.
type monitorConnection struct {
	conn *connection
}

func (m *monitorConnection) WriteWireMessage(ctx context.Context, wm []byte) error {
	return m.conn.WriteWireMessage(ctx, wm)
}

func (m *monitorConnection) ReadWireMessage(ctx context.Context) ([]byte, error) {
	return m.conn.ReadWireMessage(ctx)
}

func (m *monitorConnection) Close() error { return m.conn.Close() }

// SupportsStreaming reports whether the server supports the awaitable hello
// protocol (wire version 9+).
func (m *monitorConnection) SupportsStreaming() bool {
	return m.conn.supportsWireVersion(9)
}

// CompressorID exposes the negotiated compressor for the operation layer.
func (c *connection) CompressorID() (wiremessage.CompressorID, bool) {
	return c.compressor, c.compressorSet
}
