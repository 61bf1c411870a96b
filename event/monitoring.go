// Package event defines the structured monitoring hooks the driver publishes
// instead of writing log lines: command lifecycle events and server/topology SDAM events.
package event

import (
	"time"

	"github.com/dbdrift/topologycore/address"
	"github.com/dbdrift/topologycore/description"
	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
)

// CommandStartedEvent is published when a command begins executing.
type CommandStartedEvent struct {
	Command      bsoncore.Document
	DatabaseName string
	CommandName  string
	RequestID    int64
	ConnectionID string
}

// CommandSucceededEvent is published when a command completes successfully.
type CommandSucceededEvent struct {
	CommandName  string
	RequestID    int64
	ConnectionID string
	Duration     time.Duration
	Reply        bsoncore.Document
}

// CommandFailedEvent is published when a command fails.
type CommandFailedEvent struct {
	CommandName  string
	RequestID    int64
	ConnectionID string
	Duration     time.Duration
	Failure      error
}

// CommandMonitor represents a monitor that is triggered for different events.
type CommandMonitor struct {
	Started   func(CommandStartedEvent)
	Succeeded func(CommandSucceededEvent)
	Failed    func(CommandFailedEvent)
}

// ServerDescriptionChangedEvent represents a server description change.
type ServerDescriptionChangedEvent struct {
	Address             address.Address
	TopologyID          string
	PreviousDescription description.Server
	NewDescription      description.Server
}

// ServerClosedEvent represents a server being removed from a topology.
type ServerClosedEvent struct {
	Address    address.Address
	TopologyID string
}

// TopologyDescriptionChangedEvent represents a topology description change.
type TopologyDescriptionChangedEvent struct {
	TopologyID          string
	PreviousDescription description.Topology
	NewDescription      description.Topology
}

// TopologyOpeningEvent represents a topology being initialized.
type TopologyOpeningEvent struct {
	TopologyID string
}

// TopologyClosedEvent represents a topology being closed.
type TopologyClosedEvent struct {
	TopologyID string
}

// ServerHeartbeatStartedEvent represents a monitor probe starting.
type ServerHeartbeatStartedEvent struct {
	ConnectionID string
}

// ServerHeartbeatSucceededEvent represents a monitor probe succeeding.
type ServerHeartbeatSucceededEvent struct {
	DurationNanos int64
	Reply         description.Server
	ConnectionID  string
	Awaited       bool
}

// ServerHeartbeatFailedEvent represents a monitor probe failing.
type ServerHeartbeatFailedEvent struct {
	DurationNanos int64
	Failure       error
	ConnectionID  string
	Awaited       bool
}

// ServerMonitor represents a monitor triggered for changes to the SDAM state.
type ServerMonitor struct {
	ServerDescriptionChanged   func(*ServerDescriptionChangedEvent)
	ServerClosed               func(*ServerClosedEvent)
	TopologyDescriptionChanged func(*TopologyDescriptionChangedEvent)
	TopologyOpening            func(*TopologyOpeningEvent)
	TopologyClosed             func(*TopologyClosedEvent)
	ServerHeartbeatStarted     func(*ServerHeartbeatStartedEvent)
	ServerHeartbeatSucceeded   func(*ServerHeartbeatSucceededEvent)
	ServerHeartbeatFailed      func(*ServerHeartbeatFailedEvent)
}

// PoolEvent represents a connection pool event.
type PoolEvent struct {
	Type         string
	Address      string
	ConnectionID uint64
}

// Pool event type constants.
const (
	ConnectionCreated     = "ConnectionCreated"
	ConnectionReady       = "ConnectionReady"
	ConnectionClosed      = "ConnectionClosed"
	ConnectionCheckedOut  = "ConnectionCheckedOut"
	ConnectionCheckedIn   = "ConnectionCheckedIn"
	PoolCreated           = "ConnectionPoolCreated"
	PoolClosedEvent       = "ConnectionPoolClosed"
)

// PoolMonitor is a function that handles pool events.
type PoolMonitor struct {
	Event func(*PoolEvent)
}
