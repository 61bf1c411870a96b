package operation

import (
	"context"
	"errors"
	"strconv"

	"github.com/dbdrift/topologycore/description"
	"github.com/dbdrift/topologycore/event"
	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
	"github.com/dbdrift/topologycore/x/driver"
	"github.com/dbdrift/topologycore/x/driver/session"
)

// KillCursors closes server-side cursors. Like GetMore it must reach the
// originating server.
type KillCursors struct {
	cursorIDs  []int64
	session    *session.Client
	clock      *session.ClusterClock
	collection string
	monitor    *event.CommandMonitor
	database   string
	deployment driver.Deployment
	selector   description.ServerSelector
	serverAPI  *driver.ServerAPIOptions
}

// NewKillCursors constructs and returns a new KillCursors.
func NewKillCursors(cursorIDs ...int64) *KillCursors {
	return &KillCursors{cursorIDs: cursorIDs}
}

// Execute runs this operation.
func (kc *KillCursors) Execute(ctx context.Context) error {
	if kc.deployment == nil {
		return errors.New("the KillCursors operation must have a Deployment set before Execute can be called")
	}
	return (&driver.Operation{
		CommandFn:      kc.command,
		Type:           driver.Read,
		Client:         kc.session,
		Clock:          kc.clock,
		CommandMonitor: kc.monitor,
		Database:       kc.database,
		Deployment:     kc.deployment,
		Selector:       kc.selector,
		ServerAPI:      kc.serverAPI,
	}).Execute(ctx, nil)
}

func (kc *KillCursors) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "killCursors", kc.collection)
	var arr []byte
	for i, id := range kc.cursorIDs {
		arr = bsoncore.AppendInt64Element(arr, strconv.Itoa(i), id)
	}
	dst = bsoncore.AppendArrayElement(dst, "cursors", bsoncore.BuildDocument(nil, arr))
	return dst, nil
}

// Session sets the session for this operation.
func (kc *KillCursors) Session(client *session.Client) *KillCursors {
	if kc == nil {
		kc = new(KillCursors)
	}
	kc.session = client
	return kc
}

// ClusterClock sets the cluster clock for this operation.
func (kc *KillCursors) ClusterClock(clock *session.ClusterClock) *KillCursors {
	if kc == nil {
		kc = new(KillCursors)
	}
	kc.clock = clock
	return kc
}

// Collection sets the collection that this command will run against.
func (kc *KillCursors) Collection(collection string) *KillCursors {
	if kc == nil {
		kc = new(KillCursors)
	}
	kc.collection = collection
	return kc
}

// CommandMonitor sets the monitor to use for APM events.
func (kc *KillCursors) CommandMonitor(monitor *event.CommandMonitor) *KillCursors {
	if kc == nil {
		kc = new(KillCursors)
	}
	kc.monitor = monitor
	return kc
}

// Database sets the database to run this operation against.
func (kc *KillCursors) Database(database string) *KillCursors {
	if kc == nil {
		kc = new(KillCursors)
	}
	kc.database = database
	return kc
}

// Deployment sets the deployment to run this operation against.
func (kc *KillCursors) Deployment(deployment driver.Deployment) *KillCursors {
	if kc == nil {
		kc = new(KillCursors)
	}
	kc.deployment = deployment
	return kc
}

// ServerSelector sets the selector used to retrieve a server.
func (kc *KillCursors) ServerSelector(selector description.ServerSelector) *KillCursors {
	if kc == nil {
		kc = new(KillCursors)
	}
	kc.selector = selector
	return kc
}

// ServerAPI sets the server API version for this operation.
func (kc *KillCursors) ServerAPI(serverAPI *driver.ServerAPIOptions) *KillCursors {
	if kc == nil {
		kc = new(KillCursors)
	}
	kc.serverAPI = serverAPI
	return kc
}
