package operation

import (
	"context"
	"errors"

	"github.com/dbdrift/topologycore/description"
	"github.com/dbdrift/topologycore/event"
	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
	"github.com/dbdrift/topologycore/x/driver"
	"github.com/dbdrift/topologycore/x/driver/session"
)

// EndSessions performs an endSessions operation, returning pooled logical
// session ids to the server on client disconnect.
type EndSessions struct {
	sessionIDs bsoncore.Document
	clock      *session.ClusterClock
	monitor    *event.CommandMonitor
	deployment driver.Deployment
	selector   description.ServerSelector
	serverAPI  *driver.ServerAPIOptions
}

// NewEndSessions constructs and returns a new EndSessions. sessionIDs must
// be an array of {id: <uuid>} documents.
func NewEndSessions(sessionIDs bsoncore.Document) *EndSessions {
	return &EndSessions{sessionIDs: sessionIDs}
}

// Execute runs this operation.
func (es *EndSessions) Execute(ctx context.Context) error {
	if es.deployment == nil {
		return errors.New("the EndSessions operation must have a Deployment set before Execute can be called")
	}
	return (&driver.Operation{
		CommandFn:      es.command,
		Type:           driver.Read,
		Clock:          es.clock,
		CommandMonitor: es.monitor,
		Database:       "admin",
		Deployment:     es.deployment,
		Selector:       es.selector,
		ServerAPI:      es.serverAPI,
	}).Execute(ctx, nil)
}

func (es *EndSessions) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	if es.sessionIDs != nil {
		dst = bsoncore.AppendArrayElement(dst, "endSessions", es.sessionIDs)
	}
	return dst, nil
}

// ClusterClock sets the cluster clock for this operation.
func (es *EndSessions) ClusterClock(clock *session.ClusterClock) *EndSessions {
	if es == nil {
		es = new(EndSessions)
	}
	es.clock = clock
	return es
}

// CommandMonitor sets the monitor to use for APM events.
func (es *EndSessions) CommandMonitor(monitor *event.CommandMonitor) *EndSessions {
	if es == nil {
		es = new(EndSessions)
	}
	es.monitor = monitor
	return es
}

// Deployment sets the deployment to run this operation against.
func (es *EndSessions) Deployment(deployment driver.Deployment) *EndSessions {
	if es == nil {
		es = new(EndSessions)
	}
	es.deployment = deployment
	return es
}

// ServerSelector sets the selector used to retrieve a server.
func (es *EndSessions) ServerSelector(selector description.ServerSelector) *EndSessions {
	if es == nil {
		es = new(EndSessions)
	}
	es.selector = selector
	return es
}

// ServerAPI sets the server API version for this operation.
func (es *EndSessions) ServerAPI(serverAPI *driver.ServerAPIOptions) *EndSessions {
	if es == nil {
		es = new(EndSessions)
	}
	es.serverAPI = serverAPI
	return es
}
