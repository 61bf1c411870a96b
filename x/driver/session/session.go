package session

import (
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
)

// SessionType represents whether a session was started implicitly by an
// operation or explicitly by an application.
type SessionType uint8

// Session type constants.
const (
	Implicit SessionType = iota
	Explicit
)

// TransactionState represents the state of a transaction.
type TransactionState uint8

// Transaction state constants.
const (
	None TransactionState = iota
	Starting
	InProgress
	Committed
	Aborted
)

// ID is an opaque session identifier.
type ID [16]byte

func newID() ID {
	var id ID
	_, _ = rand.Read(id[:])
	return id
}

// Client wraps a logical session.
type Client struct {
	SessionID       ID
	ClientID        [16]byte
	SessionType     SessionType
	TransactionState TransactionState
	PinnedServerAddr string // empty if not pinned
	RetryWrite      bool
	RetryRead       bool

	pool        *Pool
	terminated  bool
	mu          sync.Mutex
}

// NewClientSession creates a new session wrapping an entry checked out from pool.
func NewClientSession(pool *Pool, clientID [16]byte, sessType SessionType, opts ...*ClientOptions) (*Client, error) {
	if pool == nil {
		return nil, errors.New("session: no pool available; client may be disconnected")
	}
	id := pool.checkOut()
	return &Client{
		SessionID:   id,
		ClientID:    clientID,
		SessionType: sessType,
		pool:        pool,
	}, nil
}

// ClientOptions configures a Client session.
type ClientOptions struct {
	CausalConsistency     *bool
	DefaultReadConcern    interface{}
	DefaultReadPreference interface{}
	DefaultWriteConcern   interface{}
	DefaultMaxCommitTime  *time.Duration
	Snapshot              *bool
}

// EndSession returns the session's id to the pool.
func (c *Client) EndSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminated {
		return
	}
	c.terminated = true
	c.pool.checkIn(c.SessionID)
}

// StartTransaction transitions the session into the Starting state and
// clears any previous pin.
func (c *Client) StartTransaction() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.TransactionState == InProgress || c.TransactionState == Starting {
		return errors.New("session: transaction already in progress")
	}
	c.TransactionState = Starting
	c.PinnedServerAddr = ""
	return nil
}

// AdvanceTransactionState moves Starting -> InProgress on the first executed operation.
func (c *Client) AdvanceTransactionState() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.TransactionState == Starting {
		c.TransactionState = InProgress
	}
}

// CommitTransaction marks the transaction committed.
func (c *Client) CommitTransaction() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TransactionState = Committed
}

// AbortTransaction marks the transaction aborted and releases any pin.
func (c *Client) AbortTransaction() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TransactionState = Aborted
	c.PinnedServerAddr = ""
}

// PinToServer pins the session (e.g. to the mongos that started the
// transaction).
func (c *Client) PinToServer(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PinnedServerAddr = addr
}

// UnpinServer clears the address pin, used when a transaction error requires
// retrying against a freshly selected server.
func (c *Client) UnpinServer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PinnedServerAddr = ""
}

// InActiveTransaction returns true if the session is starting or mid-transaction.
func (c *Client) InActiveTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.TransactionState == Starting || c.TransactionState == InProgress
}

// AddClusterTime advances clock to ct when ct is newer than the clock's
// current cluster time.
func (c *Client) AddClusterTime(clock *ClusterClock, ct bsoncore.Document) {
	clock.AdvanceClusterTime(ct)
}
