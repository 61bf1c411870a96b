// Package mongo presents the client facade:
// configuration precedence, lifecycle, dispatch entry points, and the
// user-facing Database/Collection/Cursor/BulkWrite surfaces that bind to
// the topology engine underneath.
package mongo

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dbdrift/topologycore/codec"
	"github.com/dbdrift/topologycore/description"
	"github.com/dbdrift/topologycore/event"
	"github.com/dbdrift/topologycore/internal/uri"
	"github.com/dbdrift/topologycore/mongo/options"
	"github.com/dbdrift/topologycore/readconcern"
	"github.com/dbdrift/topologycore/readpref"
	"github.com/dbdrift/topologycore/writeconcern"
	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
	"github.com/dbdrift/topologycore/x/driver"
	"github.com/dbdrift/topologycore/x/driver/auth"
	"github.com/dbdrift/topologycore/x/driver/connection"
	"github.com/dbdrift/topologycore/x/driver/operation"
	"github.com/dbdrift/topologycore/x/driver/session"
	"github.com/dbdrift/topologycore/x/driver/topology"
)

const defaultLocalThreshold = 15 * time.Millisecond

// Client is a handle representing a pool of connections to a deployment. It
// is safe for concurrent use by multiple goroutines.
type Client struct {
	id             [16]byte
	deployment     *topology.Topology
	localThreshold time.Duration
	retryWrites    bool
	retryReads     bool
	clock          *session.ClusterClock
	sessionPool    *session.Pool
	topologySub    *driver.Subscription

	monitor       *event.CommandMonitor
	serverMonitor *event.ServerMonitor

	readConcern    *readconcern.ReadConcern
	readPreference *readpref.ReadPref
	writeConcern   *writeconcern.WriteConcern
	registry       codec.Codec
	serverAPI      *driver.ServerAPIOptions
	maxTime        *time.Duration
}

// Connect creates a new Client and then initializes it using the Connect
// method.
func Connect(ctx context.Context, opts ...*options.ClientOptions) (*Client, error) {
	c, err := NewClient(opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// NewClient creates a new client to connect to a deployment specified by the
// merged options. Option fields resolve with the precedence
// URI value > explicit configuration value > default.
func NewClient(opts ...*options.ClientOptions) (*Client, error) {
	// Each input carries its own deferred ApplyURI error, which the merge
	// does not copy, so validate the inputs before merging them.
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.Validate(); err != nil {
			return nil, err
		}
	}
	clientOpt := mergeClientOptions(opts...)
	if err := clientOpt.Validate(); err != nil {
		return nil, err
	}

	c := &Client{clock: new(session.ClusterClock), registry: codec.DefaultRegistry}
	if _, err := rand.Read(c.id[:]); err != nil {
		return nil, fmt.Errorf("error creating client id: %w", err)
	}

	if err := c.configure(clientOpt); err != nil {
		return nil, err
	}
	return c, nil
}

// mergeClientOptions combines the given slice of ClientOptions, with later
// non-nil fields overriding earlier ones.
func mergeClientOptions(opts ...*options.ClientOptions) *options.ClientOptions {
	merged := options.Client()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if opt.AppName != nil {
			merged.AppName = opt.AppName
		}
		if opt.Auth != nil {
			merged.Auth = opt.Auth
		}
		if opt.Compressors != nil {
			merged.Compressors = opt.Compressors
		}
		if opt.ConnectTimeout != nil {
			merged.ConnectTimeout = opt.ConnectTimeout
		}
		if opt.Direct != nil {
			merged.Direct = opt.Direct
		}
		if opt.HeartbeatInterval != nil {
			merged.HeartbeatInterval = opt.HeartbeatInterval
		}
		if opt.Hosts != nil {
			merged.Hosts = opt.Hosts
		}
		if opt.LocalThreshold != nil {
			merged.LocalThreshold = opt.LocalThreshold
		}
		if opt.MaxTime != nil {
			merged.MaxTime = opt.MaxTime
		}
		if opt.Monitor != nil {
			merged.Monitor = opt.Monitor
		}
		if opt.ServerMonitor != nil {
			merged.ServerMonitor = opt.ServerMonitor
		}
		if opt.ReadConcern != nil {
			merged.ReadConcern = opt.ReadConcern
		}
		if opt.ReadPreference != nil {
			merged.ReadPreference = opt.ReadPreference
		}
		if opt.Codec != nil {
			merged.Codec = opt.Codec
		}
		if opt.ReplicaSet != nil {
			merged.ReplicaSet = opt.ReplicaSet
		}
		if opt.RetryWrites != nil {
			merged.RetryWrites = opt.RetryWrites
		}
		if opt.RetryReads != nil {
			merged.RetryReads = opt.RetryReads
		}
		if opt.ServerAPIOptions != nil {
			merged.ServerAPIOptions = opt.ServerAPIOptions
		}
		if opt.ServerSelectionTimeout != nil {
			merged.ServerSelectionTimeout = opt.ServerSelectionTimeout
		}
		if opt.ServerSelectionTryOnce != nil {
			merged.ServerSelectionTryOnce = opt.ServerSelectionTryOnce
		}
		if opt.SocketTimeout != nil {
			merged.SocketTimeout = opt.SocketTimeout
		}
		if opt.SocketCheckInterval != nil {
			merged.SocketCheckInterval = opt.SocketCheckInterval
		}
		if opt.TLS != nil {
			merged.TLS = opt.TLS
		}
		if opt.WriteConcern != nil {
			merged.WriteConcern = opt.WriteConcern
		}
		if opt.ZlibLevel != nil {
			merged.ZlibLevel = opt.ZlibLevel
		}
		if opt.ZstdLevel != nil {
			merged.ZstdLevel = opt.ZstdLevel
		}
		if opt.ConnString != nil {
			merged.ConnString = opt.ConnString
		}
	}
	return merged
}

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func resolveDuration(fromURI time.Duration, explicit *time.Duration, def time.Duration) time.Duration {
	if fromURI > 0 {
		return fromURI
	}
	if explicit != nil {
		return *explicit
	}
	return def
}

// configure resolves each configuration field (URI > explicit > default) and
// assembles the dialer and topology.
func (c *Client) configure(opts *options.ClientOptions) error {
	cs := opts.ConnString

	c.monitor = opts.Monitor
	c.serverMonitor = opts.ServerMonitor
	c.maxTime = opts.MaxTime
	if cs != nil && cs.MaxTimeMS > 0 {
		mt := millis(cs.MaxTimeMS)
		c.maxTime = &mt
	}

	c.readConcern = readconcern.New()
	if opts.ReadConcern != nil {
		c.readConcern = opts.ReadConcern
	}

	c.readPreference = readpref.Primary()
	uriRP, err := options.ReadPrefFromConnString(cs)
	if err != nil {
		return err
	}
	switch {
	case uriRP != nil:
		c.readPreference = uriRP
	case opts.ReadPreference != nil:
		c.readPreference = opts.ReadPreference
	}

	if uriWC := options.WriteConcernFromConnString(cs); uriWC != nil {
		c.writeConcern = uriWC
	} else if opts.WriteConcern != nil {
		c.writeConcern = opts.WriteConcern
	}

	if opts.Codec != nil {
		c.registry = opts.Codec
	}
	if opts.ServerAPIOptions != nil {
		c.serverAPI = &driver.ServerAPIOptions{
			ServerAPIVersion:  opts.ServerAPIOptions.ServerAPIVersion,
			Strict:            opts.ServerAPIOptions.Strict,
			DeprecationErrors: opts.ServerAPIOptions.DeprecationErrors,
		}
	}

	c.retryWrites = true
	if opts.RetryWrites != nil {
		c.retryWrites = *opts.RetryWrites
	}
	c.retryReads = true
	if opts.RetryReads != nil {
		c.retryReads = *opts.RetryReads
	}

	var uriConnect, uriSocket, uriSelection, uriHeartbeat, uriLocal, uriSocketCheck time.Duration
	if cs != nil {
		uriConnect = millis(cs.ConnectTimeoutMS)
		uriSocket = millis(cs.SocketTimeoutMS)
		uriSelection = millis(cs.ServerSelectionTimeoutMS)
		uriHeartbeat = millis(cs.HeartbeatFrequencyMS)
		uriLocal = millis(cs.LocalThresholdMS)
		uriSocketCheck = millis(cs.SocketCheckIntervalMS)
	}
	connectTimeout := resolveDuration(uriConnect, opts.ConnectTimeout, topology.DefaultConnectTimeout)
	socketTimeout := resolveDuration(uriSocket, opts.SocketTimeout, 0)
	serverSelectionTimeout := resolveDuration(uriSelection, opts.ServerSelectionTimeout, topology.DefaultServerSelectionTimeout)
	heartbeatInterval := resolveDuration(uriHeartbeat, opts.HeartbeatInterval, topology.DefaultHeartbeatInterval)
	localThreshold := resolveDuration(uriLocal, opts.LocalThreshold, defaultLocalThreshold)
	socketCheckInterval := resolveDuration(uriSocketCheck, opts.SocketCheckInterval, 10*time.Minute)
	c.localThreshold = localThreshold

	tryOnce := false
	if cs != nil && cs.ServerSelectionTryOnce {
		tryOnce = true
	} else if opts.ServerSelectionTryOnce != nil {
		tryOnce = *opts.ServerSelectionTryOnce
	}

	appName := ""
	if cs != nil && cs.AppName != "" {
		appName = cs.AppName
	} else if opts.AppName != nil {
		appName = *opts.AppName
	}

	var compressors []string
	if cs != nil && len(cs.Compressors) > 0 {
		compressors = cs.Compressors
	} else if len(opts.Compressors) > 0 {
		compressors = opts.Compressors
	}
	zlibLevel := 0
	if cs != nil && cs.ZlibCompressionLevel != 0 {
		zlibLevel = cs.ZlibCompressionLevel
	} else if opts.ZlibLevel != nil {
		zlibLevel = *opts.ZlibLevel
	}
	zstdLevel := 0
	if opts.ZstdLevel != nil {
		zstdLevel = *opts.ZstdLevel
	}

	hosts := []string{"localhost:27017"}
	if cs != nil && len(cs.Hosts) > 0 {
		hosts = cs.Hosts
	} else if len(opts.Hosts) > 0 {
		hosts = opts.Hosts
	}

	replicaSet := ""
	if cs != nil && cs.ReplicaSet != "" {
		replicaSet = cs.ReplicaSet
	} else if opts.ReplicaSet != nil {
		replicaSet = *opts.ReplicaSet
	}

	direct := false
	if cs != nil && cs.Direct {
		direct = true
	} else if opts.Direct != nil {
		direct = *opts.Direct
	}
	if direct && len(hosts) > 1 {
		return errors.New("a direct connection cannot be made if multiple hosts are specified")
	}
	if direct && replicaSet != "" {
		return errors.New("a direct connection cannot be made if a replica set name is specified")
	}

	tlsEnabled := opts.TLS != nil && opts.TLS.Enabled
	if cs != nil && cs.SSLSet {
		tlsEnabled = cs.SSL
	}
	var tlsOptions connection.TLSOptions
	if opts.TLS != nil {
		tlsOptions = connection.TLSOptions{
			CAFile:                 opts.TLS.CAFile,
			CertificateKeyFile:     opts.TLS.CertificateKeyFile,
			CertificateKeyPassword: opts.TLS.CertificateKeyPassword,
			Insecure:               opts.TLS.Insecure,
		}
	}

	cred := resolveCredential(cs, opts.Auth)

	dialerOpts := []connection.Option{
		connection.WithConnectTimeout(connectTimeout),
		connection.WithSocketTimeout(socketTimeout),
		connection.WithIdleTimeout(socketCheckInterval),
		connection.WithAppName(appName),
		connection.WithCompressors(compressors),
		connection.WithZlibLevel(zlibLevel),
		connection.WithZstdLevel(zstdLevel),
		connection.WithClusterTimeCallback(c.clock.AdvanceClusterTime),
	}
	if tlsEnabled {
		tlsCfg, err := connection.NewTLSConfig(tlsOptions)
		if err != nil {
			return err
		}
		dialerOpts = append(dialerOpts,
			connection.WithTLSConfig(tlsCfg),
			connection.WithOCSPOptions(&connection.OCSPOptions{}),
		)
	}
	if cred != nil {
		authenticator, err := auth.CreateAuthenticator(cred.Mechanism, &cred.Cred)
		if err != nil {
			return err
		}
		dialerOpts = append(dialerOpts,
			connection.WithPrincipal(cred.Cred.Source+"."+cred.Cred.Username),
			connection.WithHandshaker(func(ctx context.Context, conn driver.Connection, hr *connection.HandshakeResult) error {
				return authenticator.Auth(ctx, &auth.Config{
					Connection:         conn,
					Description:        hr.Description,
					SaslSupportedMechs: hr.SaslSupportedMechs,
				})
			}),
		)
	}
	dialer, err := connection.NewDialer(dialerOpts...)
	if err != nil {
		return err
	}

	topoOpts := []topology.Option{
		topology.WithSeedList(hosts...),
		topology.WithReplicaSetName(replicaSet),
		topology.WithServerSelectionTimeout(serverSelectionTimeout),
		topology.WithServerSelectionTryOnce(tryOnce),
		topology.WithLocalThreshold(localThreshold),
		topology.WithHeartbeatInterval(heartbeatInterval),
		topology.WithConnectTimeout(connectTimeout),
		topology.WithCompressors(compressors...),
		topology.WithServerMonitor(c.serverMonitor),
		topology.WithServerOptions(
			topology.WithDialer(dialer),
			topology.WithServerConnectTimeout(connectTimeout),
		),
	}
	if cs != nil {
		topoOpts = append(topoOpts, topology.WithURI(cs.Original))
	}
	if direct {
		topoOpts = append(topoOpts, topology.WithMonitorMode(topology.SingleMode))
	}

	topo, err := topology.New(topoOpts...)
	if err != nil {
		return err
	}
	c.deployment = topo
	return nil
}

// resolvedCredential pairs an auth.Cred with its mechanism name.
type resolvedCredential struct {
	Mechanism string
	Cred      auth.Cred
}

func resolveCredential(cs *uri.ConnString, explicit *options.Credential) *resolvedCredential {
	switch {
	case cs != nil && cs.Username != "":
		source := cs.AuthSource
		if source == "" {
			source = cs.Database
		}
		if source == "" {
			source = "admin"
		}
		return &resolvedCredential{
			Mechanism: cs.AuthMechanism,
			Cred: auth.Cred{
				Source:      source,
				Username:    cs.Username,
				Password:    cs.Password,
				PasswordSet: cs.PasswordSet,
				Props:       cs.AuthMechanismProperties,
			},
		}
	case explicit != nil:
		source := explicit.AuthSource
		if source == "" {
			source = "admin"
		}
		return &resolvedCredential{
			Mechanism: explicit.AuthMechanism,
			Cred: auth.Cred{
				Source:      source,
				Username:    explicit.Username,
				Password:    explicit.Password,
				PasswordSet: explicit.PasswordSet,
				Props:       explicit.AuthMechanismProperties,
			},
		}
	}
	return nil
}

// Connect initializes the Client by starting background monitoring
// goroutines and forcing a full scan.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.deployment.Connect(); err != nil {
		if errors.Is(err, topology.ErrTopologyConnected) {
			return ErrClientConnected
		}
		return replaceErrors(err)
	}
	c.deployment.RequestImmediateCheck()

	sub, err := c.deployment.Subscribe()
	if err != nil {
		return replaceErrors(err)
	}
	c.topologySub = sub
	c.sessionPool = session.NewPool(sub.Updates)
	return nil
}

// Disconnect closes every Link and stops monitoring.
func (c *Client) Disconnect(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.endSessions(ctx)
	if c.sessionPool != nil {
		c.sessionPool.Close()
		c.sessionPool = nil
	}
	if c.topologySub != nil {
		_ = c.deployment.Unsubscribe(c.topologySub)
		c.topologySub = nil
	}
	if err := c.deployment.Disconnect(ctx); err != nil {
		if errors.Is(err, topology.ErrTopologyClosed) {
			return ErrClientDisconnected
		}
		return replaceErrors(err)
	}
	return nil
}

// Reconnect closes every link and starts a fresh scan.
func (c *Client) Reconnect(ctx context.Context) error {
	if err := c.Disconnect(ctx); err != nil && !errors.Is(err, ErrClientDisconnected) {
		return err
	}
	return c.Connect(ctx)
}

// Ping verifies that the client can select and reach a server matching rp.
func (c *Client) Ping(ctx context.Context, rp *readpref.ReadPref) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if rp == nil {
		rp = c.readPreference
	}
	db := c.Database("admin")
	res := db.RunCommand(ctx, bsoncore.NewDocumentBuilder().AppendInt32("ping", 1).Build(),
		options.RunCmd().SetReadPreference(rp))
	return replaceErrors(res.Err())
}

// StartSession starts a new logical session.
func (c *Client) StartSession() (*Session, error) {
	if c.sessionPool == nil {
		return nil, ErrClientDisconnected
	}
	sess, err := session.NewClientSession(c.sessionPool, c.id, session.Explicit)
	if err != nil {
		return nil, replaceErrors(err)
	}
	return &Session{client: c, session: sess}, nil
}

// endSessions returns all pooled session ids to the server in a single
// best-effort endSessions command.
func (c *Client) endSessions(ctx context.Context) {
	if c.sessionPool == nil {
		return
	}
	ids := c.sessionPool.IDSlice()
	if len(ids) == 0 {
		return
	}
	var arr []byte
	for i, id := range ids {
		idDoc := bsoncore.AppendBinaryElementSubtype(nil, "id", 0x04, id[:])
		arr = bsoncore.AppendDocumentElement(arr, strconv.Itoa(i), bsoncore.BuildDocument(nil, idDoc))
	}
	op := operation.NewEndSessions(bsoncore.BuildDocument(nil, arr)).
		ClusterClock(c.clock).
		CommandMonitor(c.monitor).
		Deployment(c.deployment).
		ServerSelector(c.readSelector(readpref.PrimaryPreferred())).
		ServerAPI(c.serverAPI)
	_ = op.Execute(ctx)
}

// Database returns a handle for a database with the given name.
func (c *Client) Database(name string, opts ...*options.DatabaseOptions) *Database {
	return newDatabase(c, name, opts...)
}

// Fsync flushes pending writes on the selected writable server, optionally
// locking it against further writes.
func (c *Client) Fsync(ctx context.Context, lock bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	op := operation.NewFsync().
		Lock(lock).
		ClusterClock(c.clock).
		CommandMonitor(c.monitor).
		Deployment(c.deployment).
		ServerSelector(c.writeSelector()).
		ServerAPI(c.serverAPI)
	return replaceErrors(op.Execute(ctx))
}

// FsyncUnlock releases a previous fsync lock.
func (c *Client) FsyncUnlock(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	op := operation.NewFsyncUnlock().
		ClusterClock(c.clock).
		CommandMonitor(c.monitor).
		Deployment(c.deployment).
		ServerSelector(c.writeSelector()).
		ServerAPI(c.serverAPI)
	return replaceErrors(op.Execute(ctx))
}

// ServerStatus describes one server in a TopologyStatus snapshot.
type ServerStatus struct {
	Address    string
	Type       string
	EWMARTT    time.Duration
	LastUpdate time.Time
	LastError  string
}

// TopologyStatus is the structured snapshot returned by the topology_status
// dispatch surface.
type TopologyStatus struct {
	TopologyType   string
	ReplicaSetName string
	Servers        []ServerStatus
}

// TopologyStatus returns the client's current view of the deployment. When
// refresh is true, every monitor is asked to re-probe immediately first.
func (c *Client) TopologyStatus(refresh bool) TopologyStatus {
	if refresh {
		c.deployment.RequestImmediateCheck()
	}
	desc := c.deployment.Description()
	status := TopologyStatus{
		TopologyType:   desc.Kind.String(),
		ReplicaSetName: desc.SetName,
	}
	for _, s := range desc.Servers {
		ss := ServerStatus{
			Address:    s.Addr.String(),
			Type:       s.Kind.String(),
			EWMARTT:    s.AverageRTT,
			LastUpdate: s.LastUpdateTime,
		}
		if s.LastError != nil {
			ss.LastError = s.LastError.Error()
		}
		status.Servers = append(status.Servers, ss)
	}
	return status
}

// readSelector composes the read-preference filter with the latency window.
func (c *Client) readSelector(rp *readpref.ReadPref) description.ServerSelector {
	if rp == nil {
		rp = c.readPreference
	}
	return description.CompositeSelector([]description.ServerSelector{
		description.ReadPrefSelectorFn(rp),
		&description.LatencySelector{Latency: c.localThreshold},
	})
}

// writeSelector composes writable filtering with the latency window.
func (c *Client) writeSelector() description.ServerSelector {
	return description.CompositeSelector([]description.ServerSelector{
		description.WriteSelector{},
		&description.LatencySelector{Latency: c.localThreshold},
	})
}

// directSelector pins dispatch to one address.
func (c *Client) directSelector(addr string) description.ServerSelector {
	return description.AddrSelector{Addr: addr}
}

func (c *Client) retryWriteMode() driver.RetryMode {
	if c.retryWrites {
		return driver.RetryOncePerCommand
	}
	return driver.RetryNone
}

func (c *Client) retryReadMode() driver.RetryMode {
	if c.retryReads {
		return driver.RetryOncePerCommand
	}
	return driver.RetryNone
}
