// Package options defines the configuration value objects accepted by the
// client facade, with the precedence rule: URI value >
// explicit configuration value > default.
package options

import (
	"fmt"
	"time"

	"github.com/dbdrift/topologycore/codec"
	"github.com/dbdrift/topologycore/event"
	"github.com/dbdrift/topologycore/internal/uri"
	"github.com/dbdrift/topologycore/readconcern"
	"github.com/dbdrift/topologycore/readpref"
	"github.com/dbdrift/topologycore/tag"
	"github.com/dbdrift/topologycore/writeconcern"
)

// Credential holds auth options resolved from the URI or set explicitly.
type Credential struct {
	AuthMechanism           string
	AuthMechanismProperties map[string]string
	AuthSource              string
	Username                string
	Password                string
	PasswordSet             bool
}

// TLSOptions mirrors connection-level TLS settings.
type TLSOptions struct {
	Enabled                bool
	CAFile                 string
	CertificateKeyFile     string
	CertificateKeyPassword string
	Insecure               bool
}

// ServerAPIOptions configures the Stable API passthrough.
type ServerAPIOptions struct {
	ServerAPIVersion  string
	Strict            *bool
	DeprecationErrors *bool
}

// ClientOptions represents explicit client configuration. Zero values mean
// "not set"; the client resolves each field against the parsed URI and the
// driver defaults at construction time.
type ClientOptions struct {
	AppName                *string
	Auth                   *Credential
	Compressors            []string
	ConnectTimeout         *time.Duration
	Direct                 *bool
	HeartbeatInterval      *time.Duration
	Hosts                  []string
	LocalThreshold         *time.Duration
	MaxTime                *time.Duration
	Monitor                *event.CommandMonitor
	ServerMonitor          *event.ServerMonitor
	PoolMonitor            *event.PoolMonitor
	ReadConcern            *readconcern.ReadConcern
	ReadPreference         *readpref.ReadPref
	Codec                  codec.Codec
	ReplicaSet             *string
	RetryWrites            *bool
	RetryReads             *bool
	ServerAPIOptions       *ServerAPIOptions
	ServerSelectionTimeout *time.Duration
	ServerSelectionTryOnce *bool
	SocketTimeout          *time.Duration
	SocketCheckInterval    *time.Duration
	TLS                    *TLSOptions
	WriteConcern           *writeconcern.WriteConcern
	ZlibLevel              *int
	ZstdLevel              *int

	// ConnString is the parsed URI, populated by ApplyURI.
	ConnString *uri.ConnString

	err error
}

// Client creates a new ClientOptions instance.
func Client() *ClientOptions {
	return new(ClientOptions)
}

// Validate validates the client options. This method will return the first
// error found.
func (c *ClientOptions) Validate() error {
	if c.err != nil {
		return c.err
	}
	if c.Direct != nil && *c.Direct {
		if len(c.Hosts) > 1 || (c.ConnString != nil && len(c.ConnString.Hosts) > 1) {
			return fmt.Errorf("a direct connection cannot be made if multiple hosts are specified")
		}
		if c.ReplicaSet != nil {
			return fmt.Errorf("directConnection=true cannot be used with a replica set name")
		}
	}
	if c.Auth != nil && c.Auth.AuthMechanism == "MONGODB-X509" && c.Auth.PasswordSet {
		return fmt.Errorf("password cannot be specified for MONGODB-X509")
	}
	return nil
}

// ApplyURI parses the given URI and stores it for field resolution. Parse
// errors are deferred to Validate so option chaining stays fluent.
func (c *ClientOptions) ApplyURI(rawURI string) *ClientOptions {
	if c.err != nil {
		return c
	}
	cs, err := uri.Parse(rawURI)
	if err != nil {
		c.err = err
		return c
	}
	c.ConnString = cs
	return c
}

// SetAppName specifies an application name.
func (c *ClientOptions) SetAppName(s string) *ClientOptions {
	c.AppName = &s
	return c
}

// SetAuth sets the authentication options.
func (c *ClientOptions) SetAuth(auth Credential) *ClientOptions {
	c.Auth = &auth
	return c
}

// SetCompressors sets the compressors that can be used when communicating
// with the deployment.
func (c *ClientOptions) SetCompressors(comps []string) *ClientOptions {
	c.Compressors = comps
	return c
}

// SetConnectTimeout specifies the timeout for an initial connection.
func (c *ClientOptions) SetConnectTimeout(d time.Duration) *ClientOptions {
	c.ConnectTimeout = &d
	return c
}

// SetDirect specifies whether a direct (Single topology) connection should be made.
func (c *ClientOptions) SetDirect(b bool) *ClientOptions {
	c.Direct = &b
	return c
}

// SetHeartbeatInterval specifies the interval between monitor probes.
func (c *ClientOptions) SetHeartbeatInterval(d time.Duration) *ClientOptions {
	c.HeartbeatInterval = &d
	return c
}

// SetHosts specifies the seed list.
func (c *ClientOptions) SetHosts(hosts []string) *ClientOptions {
	c.Hosts = hosts
	return c
}

// SetLocalThreshold specifies the latency window.
func (c *ClientOptions) SetLocalThreshold(d time.Duration) *ClientOptions {
	c.LocalThreshold = &d
	return c
}

// SetMaxTime specifies the default per-operation maxTimeMS.
func (c *ClientOptions) SetMaxTime(d time.Duration) *ClientOptions {
	c.MaxTime = &d
	return c
}

// SetMonitor specifies a command monitor to receive command lifecycle events.
func (c *ClientOptions) SetMonitor(m *event.CommandMonitor) *ClientOptions {
	c.Monitor = m
	return c
}

// SetServerMonitor specifies a server monitor to receive SDAM events.
func (c *ClientOptions) SetServerMonitor(m *event.ServerMonitor) *ClientOptions {
	c.ServerMonitor = m
	return c
}

// SetReadConcern specifies the client-level read concern.
func (c *ClientOptions) SetReadConcern(rc *readconcern.ReadConcern) *ClientOptions {
	c.ReadConcern = rc
	return c
}

// SetReadPreference specifies the client-level read preference.
func (c *ClientOptions) SetReadPreference(rp *readpref.ReadPref) *ClientOptions {
	c.ReadPreference = rp
	return c
}

// SetCodec specifies the pluggable document codec.
func (c *ClientOptions) SetCodec(cdc codec.Codec) *ClientOptions {
	c.Codec = cdc
	return c
}

// SetReplicaSet specifies the expected replica set name.
func (c *ClientOptions) SetReplicaSet(s string) *ClientOptions {
	c.ReplicaSet = &s
	return c
}

// SetRetryWrites specifies whether supported write operations are retried
// once on network or not-master errors.
func (c *ClientOptions) SetRetryWrites(b bool) *ClientOptions {
	c.RetryWrites = &b
	return c
}

// SetRetryReads specifies whether supported read operations are retried once.
func (c *ClientOptions) SetRetryReads(b bool) *ClientOptions {
	c.RetryReads = &b
	return c
}

// SetServerAPIOptions specifies the Stable API passthrough.
func (c *ClientOptions) SetServerAPIOptions(opts *ServerAPIOptions) *ClientOptions {
	c.ServerAPIOptions = opts
	return c
}

// SetServerSelectionTimeout specifies the selection budget.
func (c *ClientOptions) SetServerSelectionTimeout(d time.Duration) *ClientOptions {
	c.ServerSelectionTimeout = &d
	return c
}

// SetServerSelectionTryOnce makes selection perform a single scan and attempt.
func (c *ClientOptions) SetServerSelectionTryOnce(b bool) *ClientOptions {
	c.ServerSelectionTryOnce = &b
	return c
}

// SetSocketTimeout specifies the per-read/per-write budget.
func (c *ClientOptions) SetSocketTimeout(d time.Duration) *ClientOptions {
	c.SocketTimeout = &d
	return c
}

// SetSocketCheckInterval specifies how long a link may sit idle before it is
// revalidated with a ping.
func (c *ClientOptions) SetSocketCheckInterval(d time.Duration) *ClientOptions {
	c.SocketCheckInterval = &d
	return c
}

// SetTLSOptions enables TLS with the given settings.
func (c *ClientOptions) SetTLSOptions(opts TLSOptions) *ClientOptions {
	c.TLS = &opts
	return c
}

// SetWriteConcern specifies the client-level write concern.
func (c *ClientOptions) SetWriteConcern(wc *writeconcern.WriteConcern) *ClientOptions {
	c.WriteConcern = wc
	return c
}

// SetZlibLevel specifies the zlib compression level.
func (c *ClientOptions) SetZlibLevel(level int) *ClientOptions {
	c.ZlibLevel = &level
	return c
}

// SetZstdLevel specifies the zstd compression level.
func (c *ClientOptions) SetZstdLevel(level int) *ClientOptions {
	c.ZstdLevel = &level
	return c
}

// ReadPrefFromConnString builds a read preference from URI options
// (readPreference, readPreferenceTags, maxStalenessSeconds).
func ReadPrefFromConnString(cs *uri.ConnString) (*readpref.ReadPref, error) {
	if cs == nil || cs.ReadPreference == "" {
		return nil, nil
	}
	mode, err := readpref.ModeFromString(cs.ReadPreference)
	if err != nil {
		return nil, err
	}
	var opts []readpref.Option
	if len(cs.ReadPreferenceTagSets) > 0 {
		opts = append(opts, readpref.WithTagSets(tag.NewTagSetsFromMaps(cs.ReadPreferenceTagSets)...))
	}
	if cs.MaxStalenessSeconds > 0 {
		opts = append(opts, readpref.WithMaxStaleness(time.Duration(cs.MaxStalenessSeconds)*time.Second))
	}
	return readpref.New(mode, opts...)
}

// WriteConcernFromConnString builds a write concern from URI options
// (w, journal, wtimeoutMS).
func WriteConcernFromConnString(cs *uri.ConnString) *writeconcern.WriteConcern {
	if cs == nil {
		return nil
	}
	var wcOpts []writeconcern.Option
	switch {
	case cs.WNumberSet:
		wcOpts = append(wcOpts, writeconcern.W(cs.WNumber))
	case cs.W == "majority":
		wcOpts = append(wcOpts, writeconcern.WMajority())
	case cs.W != "":
		wcOpts = append(wcOpts, writeconcern.WTagSet(cs.W))
	}
	if cs.JournalSet {
		wcOpts = append(wcOpts, writeconcern.J(cs.Journal))
	}
	if cs.WTimeoutMS > 0 {
		wcOpts = append(wcOpts, writeconcern.WTimeout(time.Duration(cs.WTimeoutMS)*time.Millisecond))
	}
	if len(wcOpts) == 0 {
		return nil
	}
	return writeconcern.New(wcOpts...)
}
