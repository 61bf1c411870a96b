// Package driver defines the contracts shared between the topology engine,
// the operation executor, and the client facade.
package driver

import (
	"context"
	"time"

	"github.com/dbdrift/topologycore/description"
	"github.com/dbdrift/topologycore/event"
	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
)

// Deployment is implemented by a topology: something that can select a
// server and, in load-balanced mode, report its kind directly.
type Deployment interface {
	SelectServer(context.Context, description.ServerSelector) (Server, error)
	Kind() description.TopologyKind
}

// Connector represents a Deployment that can be connected to and
// disconnected from.
type Connector interface {
	Connect() error
	Disconnect(context.Context) error
}

// Subscription represents a subscription to topology updates.
type Subscription struct {
	Updates <-chan description.Topology
	ID      uint64
}

// Subscriber is implemented by a Deployment that allows subscriptions.
type Subscriber interface {
	Subscribe() (*Subscription, error)
	Unsubscribe(*Subscription) error
}

// Server represents a server selected for an operation; it hands out Connections.
type Server interface {
	Connection(context.Context) (Connection, error)
}

// Connection represents a single link to a server.
type Connection interface {
	WriteWireMessage(ctx context.Context, wm []byte) error
	ReadWireMessage(ctx context.Context) ([]byte, error)
	Description() description.Server
	Close() error
	ID() string
	Address() string
	Stale() bool
}

// StreamerConnection is a Connection over which a streamable/awaitable
// monitor probe can be issued (exactly-once hello with a long socket timeout).
type StreamerConnection interface {
	Connection
	SetStreaming(bool)
	CurrentlyStreaming() bool
	SupportsStreaming() bool
}

// Expirable represents a connection that knows whether it has expired -
// i.e. gone stale past the idle check interval.
type Expirable interface {
	Expired() bool
}

// Handshaker is the interface implemented by types that can perform a
// MongoDB handshake over a connection, i.e. initial server probe / hello.
type Handshaker interface {
	GetHandshakeInformation(ctx context.Context, addr interface{}, conn Connection) (HandshakeInformation, error)
	FinishHandshake(ctx context.Context, conn Connection) error
}

// HandshakeInformation holds the parsed results of a handshake/probe.
type HandshakeInformation struct {
	Description    description.Server
	SpeculativeAuthenticate bsoncore.Document
	SaslSupportedMechs      []string
}

// RetryMode specifies the way retries are handled for retryable operations.
type RetryMode uint8

// RetryMode constants.
const (
	// RetryNone disables retryability.
	RetryNone RetryMode = iota
	// RetryOnce will enable retryability for the operation using the "retry once" pattern.
	RetryOnce
	// RetryOncePerCommand will enable retryability for the operation by retrying the command once.
	RetryOncePerCommand
	// RetryContext will enable retryability behavior to match the context's configured retry support.
	RetryContext
)

// Enabled returns true if this retry mode indicates a retry should be attempted.
func (rm RetryMode) Enabled() bool {
	return rm == RetryOnce || rm == RetryOncePerCommand || rm == RetryContext
}

// ServerAPIOptions represents the Stable API passthrough threaded into every
// command.
type ServerAPIOptions struct {
	ServerAPIVersion  string
	Strict            *bool
	DeprecationErrors *bool
}

// NewServerAPIOptions constructs a ServerAPIOptions for the given version string.
func NewServerAPIOptions(version string) *ServerAPIOptions {
	return &ServerAPIOptions{ServerAPIVersion: version}
}

// SetStrict sets the strict flag.
func (s *ServerAPIOptions) SetStrict(b bool) *ServerAPIOptions {
	s.Strict = &b
	return s
}

// SetDeprecationErrors sets the deprecation-errors flag.
func (s *ServerAPIOptions) SetDeprecationErrors(b bool) *ServerAPIOptions {
	s.DeprecationErrors = &b
	return s
}

// Crypt represents the automatic client-side-encryption contract. Full
// encryption internals are out of scope; this is the seam a
// caller can plug an implementation into.
type Crypt interface {
	Encrypt(ctx context.Context, ns string, cmd bsoncore.Document) (bsoncore.Document, error)
	Decrypt(ctx context.Context, cmd bsoncore.Document) (bsoncore.Document, error)
	Close()
}

// CryptOptions configures a Crypt.
type CryptOptions struct {
	KmsProviders         bsoncore.Document
	TLSConfig            interface{}
	BypassAutoEncryption bool
	SchemaMap            map[string]bsoncore.Document
}

// NewCrypt is a placeholder constructor; automatic encryption is out of
// scope for this module's core.
func NewCrypt(opts *CryptOptions) (Crypt, error) {
	return nil, nil
}

// ResponseInfo holds contextual information from a server response, passed
// to an Operation's ProcessResponseFn.
type ResponseInfo struct {
	ServerResponse        bsoncore.Document
	Server                Server
	Connection            Connection
	ConnectionDescription description.Server
	CurrentIndex           int
}

// CommandMonitorFn is the type of a callback that receives
// event.CommandStartedEvent values.
type CommandMonitorFn = func(event.CommandStartedEvent)

// UpdateEWMA is a tiny helper used by the topology package to compute the
// exponentially-weighted moving average round-trip time.
func UpdateEWMA(previous time.Duration, sample time.Duration, alpha float64) time.Duration {
	if previous <= 0 {
		return sample
	}
	return time.Duration(alpha*float64(sample) + (1-alpha)*float64(previous))
}
