package topology

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dbdrift/topologycore/address"
	"github.com/dbdrift/topologycore/description"
	"github.com/dbdrift/topologycore/x/driver"
)

// Dialer is the seam a Server uses to obtain Connections, implemented by the
// connection package's Link dialer. Kept as an interface here
// so the topology package does not need to import connection directly and
// can be exercised with a fake dialer in tests.
type Dialer interface {
	DialMonitor(ctx context.Context, addr address.Address) (MonitorConnection, error)
	DialApplication(ctx context.Context, addr address.Address) (driver.Connection, error)
}

// MonitorConnection is the narrow surface a heartbeat probe needs: enough to
// send one hello/ismaster and read the reply, and to know whether the link
// supports streaming (the awaitable hello protocol).
type MonitorConnection interface {
	WriteWireMessage(ctx context.Context, wm []byte) error
	ReadWireMessage(ctx context.Context) ([]byte, error)
	Close() error
	SupportsStreaming() bool
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig) error

type serverConfig struct {
	heartbeatInterval time.Duration
	connectTimeout    time.Duration
	dialer            Dialer
	serverMonitor     func(event string, addr address.Address)
	appConnMax        int
	scanSem           *semaphore.Weighted
}

func newServerConfig(opts ...ServerOption) (*serverConfig, error) {
	cfg := &serverConfig{
		heartbeatInterval: DefaultHeartbeatInterval,
		connectTimeout:    DefaultConnectTimeout,
		appConnMax:        100,
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

// WithDialer installs the connection-layer Dialer used for monitor probes and
// application connections.
func WithDialer(d Dialer) ServerOption {
	return func(c *serverConfig) error { c.dialer = d; return nil }
}

// WithServerConnectTimeout overrides the per-server connect/socket timeout.
func WithServerConnectTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) error { c.connectTimeout = d; return nil }
}

// WithMaxPoolSize bounds the number of pooled application connections.
func WithMaxPoolSize(n int) ServerOption {
	return func(c *serverConfig) error { c.appConnMax = n; return nil }
}

// withScanSemaphore installs the topology-wide semaphore that bounds
// in-flight hello probes across all of a topology's servers.
// Unexported: only the owning Topology wires this, per server, in addServer.
func withScanSemaphore(sem *semaphore.Weighted) ServerOption {
	return func(c *serverConfig) error { c.scanSem = sem; return nil }
}

// Server monitors a single address and hands out application Connections to
// it.
type Server struct {
	address address.Address
	cfg     *serverConfig

	desc descBox
	rtt  ewma

	updateCallback func(description.Server) description.Server
	topologyID     string

	checkNowCh chan struct{}
	done       chan struct{}
	closeOnce  sync.Once

	poolMu sync.Mutex
	pool   []driver.Connection
}

// descBox is a tiny typed holder for the server's current descriptor.
type descBox struct {
	mu    sync.RWMutex
	value description.Server
}

func (a *descBox) Store(v description.Server) {
	a.mu.Lock()
	a.value = v
	a.mu.Unlock()
}

func (a *descBox) Load() description.Server {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.value
}

// ewma tracks the exponentially weighted moving average RTT described in
// with alpha = 0.2.
type ewma struct {
	mu    sync.Mutex
	value time.Duration
	set   bool
}

const ewmaAlpha = 0.2

func (e *ewma) Update(sample time.Duration) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		e.value = sample
		e.set = true
		return e.value
	}
	e.value = driver.UpdateEWMA(e.value, sample, ewmaAlpha)
	return e.value
}

// ConnectServer creates and starts monitoring a Server at addr.
func ConnectServer(addr address.Address, updateCallback func(description.Server) description.Server, topologyID string, opts ...ServerOption) (*Server, error) {
	cfg, err := newServerConfig(opts...)
	if err != nil {
		return nil, err
	}
	if cfg.dialer == nil {
		return nil, errors.New("topology: no Dialer configured for server monitoring")
	}

	s := &Server{
		address:        addr,
		cfg:            cfg,
		updateCallback: updateCallback,
		topologyID:     topologyID,
		checkNowCh:     make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
	s.desc.Store(description.NewDefaultServer(addr))

	go s.monitor()

	return s, nil
}

// RequestImmediateCheck wakes the monitor loop early, used for forced
// re-probes triggered by a failed selection pass.
func (s *Server) RequestImmediateCheck() {
	select {
	case s.checkNowCh <- struct{}{}:
	default:
	}
}

// Description returns the server's most recently observed descriptor.
func (s *Server) Description() description.Server { return s.desc.Load() }

// String implements fmt.Stringer.
func (s *Server) String() string { return s.Description().String() }

// Disconnect stops monitoring and closes pooled connections.
func (s *Server) Disconnect(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })

	s.poolMu.Lock()
	defer s.poolMu.Unlock()
	var firstErr error
	for _, c := range s.pool {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.pool = nil
	return firstErr
}

// Pinger is implemented by connections that can issue a lightweight ping,
// used to validate links idle past the socket-check interval.
type Pinger interface {
	Ping(context.Context) error
}

// Connection satisfies driver.Server: checks out a pooled connection or
// dials a fresh one. A pooled link idle past the
// socket-check interval is validated with a cheap ping first; a failed ping
// marks the server Unknown so the caller's selection restarts.
func (s *Server) Connection(ctx context.Context) (driver.Connection, error) {
	s.poolMu.Lock()
	if n := len(s.pool); n > 0 {
		conn := s.pool[n-1]
		s.pool = s.pool[:n-1]
		s.poolMu.Unlock()
		if !conn.Stale() {
			return &pooledConnection{Connection: conn, server: s}, nil
		}
		if p, ok := conn.(Pinger); ok {
			if err := p.Ping(ctx); err == nil {
				return &pooledConnection{Connection: conn, server: s}, nil
			}
			_ = conn.Close()
			unknown := description.NewDefaultServer(s.address)
			unknown.LastError = errors.New("connection check failed")
			unknown.LastUpdateTime = time.Now()
			s.desc.Store(s.updateCallback(unknown))
			return nil, driver.NetworkError{
				Wrapped: errors.New("idle connection failed liveness check"),
				Message: string(s.address),
			}
		}
		_ = conn.Close()
	} else {
		s.poolMu.Unlock()
	}

	conn, err := s.cfg.dialer.DialApplication(ctx, s.address)
	if err != nil {
		return nil, err
	}
	return &pooledConnection{Connection: conn, server: s}, nil
}

func (s *Server) checkIn(conn driver.Connection) {
	s.poolMu.Lock()
	defer s.poolMu.Unlock()
	if len(s.pool) >= s.cfg.appConnMax || conn.Stale() {
		_ = conn.Close()
		return
	}
	s.pool = append(s.pool, conn)
}

// pooledConnection wraps a driver.Connection so Close() returns it to the
// server's pool instead of tearing it down.
type pooledConnection struct {
	driver.Connection
	server *Server
}

func (p *pooledConnection) Close() error {
	p.server.checkIn(p.Connection)
	return nil
}

// monitor runs the scan loop: probe,
// apply the result, sleep until the next heartbeat or an immediate-check
// request, repeat.
func (s *Server) monitor() {
	ticker := time.NewTicker(s.cfg.heartbeatInterval)
	defer ticker.Stop()

	s.scanOnce()

	for {
		select {
		case <-s.done:
			return
		case <-s.checkNowCh:
			s.scanOnce()
		case <-ticker.C:
			s.scanOnce()
		}
	}
}

func (s *Server) scanOnce() {
	prev := s.desc.Load()
	if prev.Kind == description.Unknown && !prev.LastUpdateTime.IsZero() &&
		time.Since(prev.LastUpdateTime) < CooldownPeriod && prev.LastError != nil {
		return // still in post-failure cooldown
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.connectTimeout)
	defer cancel()

	if s.cfg.scanSem != nil {
		if err := s.cfg.scanSem.Acquire(ctx, 1); err != nil {
			return // context expired waiting for a scan slot; next tick retries
		}
		defer s.cfg.scanSem.Release(1)
	}

	newDesc, err := s.probe(ctx)
	if err != nil {
		newDesc = description.NewDefaultServer(s.address)
		newDesc.LastError = err
		newDesc.LastUpdateTime = time.Now()

		// Immediately re-probe once if we were a known RS member and the
		// failure was a network error.
		if isKnownRSType(prev.Kind) && driver.IsNetworkError(err) {
			retryCtx, retryCancel := context.WithTimeout(context.Background(), s.cfg.connectTimeout)
			if retryDesc, retryErr := s.probe(retryCtx); retryErr == nil {
				newDesc = retryDesc
			}
			retryCancel()
		}
	}

	s.desc.Store(s.updateCallback(newDesc))
}

func isKnownRSType(k description.ServerKind) bool {
	switch k {
	case description.RSPrimary, description.RSSecondary, description.RSArbiter, description.RSOther:
		return true
	}
	return false
}

// probe issues a single hello/ismaster and converts the reply into a Server
// descriptor with a measured and averaged RTT.
func (s *Server) probe(ctx context.Context) (description.Server, error) {
	conn, err := s.cfg.dialer.DialMonitor(ctx, s.address)
	if err != nil {
		return description.Server{}, err
	}
	defer conn.Close()

	cmd := buildHelloCommand()
	wm := encodeMonitorMessage(cmd)

	start := time.Now()
	if err := conn.WriteWireMessage(ctx, wm); err != nil {
		return description.Server{}, driver.NetworkError{Wrapped: err, Message: "hello write failed"}
	}
	reply, err := conn.ReadWireMessage(ctx)
	if err != nil {
		return description.Server{}, driver.NetworkError{Wrapped: err, Message: "hello read failed"}
	}
	rtt := time.Since(start)

	doc, err := decodeMonitorReply(reply)
	if err != nil {
		return description.Server{}, driver.DecodingError{Wrapped: err}
	}

	desc, err := parseHelloReply(s.address, doc)
	if err != nil {
		return description.Server{}, err
	}
	desc.RTT = rtt
	desc.RTTSet = true
	desc.AverageRTT = s.rtt.Update(rtt)
	desc.AverageRTTSet = true
	desc.LastUpdateTime = time.Now()
	return desc, nil
}
