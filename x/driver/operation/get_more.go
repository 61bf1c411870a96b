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

// GetMore continues iteration of a server-side cursor. It must be dispatched
// to the address that produced the cursor id.
type GetMore struct {
	cursorID   int64
	batchSize  *int32
	maxTimeMS  *int64
	session    *session.Client
	clock      *session.ClusterClock
	collection string
	monitor    *event.CommandMonitor
	database   string
	deployment driver.Deployment
	selector   description.ServerSelector
	serverAPI  *driver.ServerAPIOptions
	result     CursorResponse
}

// NewGetMore constructs and returns a new GetMore.
func NewGetMore(cursorID int64) *GetMore {
	return &GetMore{cursorID: cursorID}
}

// Result returns the cursor response produced by executing this operation.
func (gm *GetMore) Result() CursorResponse { return gm.result }

func (gm *GetMore) processResponse(info driver.ResponseInfo) error {
	cr, err := ExtractCursorResponse(info.ServerResponse)
	if err != nil {
		return err
	}
	cr.Address = info.Connection.Address()
	gm.result = cr
	return nil
}

// Execute runs this operation.
func (gm *GetMore) Execute(ctx context.Context) error {
	if gm.deployment == nil {
		return errors.New("the GetMore operation must have a Deployment set before Execute can be called")
	}
	return (&driver.Operation{
		CommandFn:         gm.command,
		ProcessResponseFn: gm.processResponse,
		Type:              driver.Read,
		Client:            gm.session,
		Clock:             gm.clock,
		CommandMonitor:    gm.monitor,
		Database:          gm.database,
		Deployment:        gm.deployment,
		Selector:          gm.selector,
		ServerAPI:         gm.serverAPI,
	}).Execute(ctx, nil)
}

func (gm *GetMore) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendInt64Element(dst, "getMore", gm.cursorID)
	dst = bsoncore.AppendStringElement(dst, "collection", gm.collection)
	if gm.batchSize != nil {
		dst = bsoncore.AppendInt32Element(dst, "batchSize", *gm.batchSize)
	}
	if gm.maxTimeMS != nil {
		dst = bsoncore.AppendInt64Element(dst, "maxTimeMS", *gm.maxTimeMS)
	}
	return dst, nil
}

// BatchSize specifies the number of documents to return in every batch.
func (gm *GetMore) BatchSize(batchSize int32) *GetMore {
	if gm == nil {
		gm = new(GetMore)
	}
	gm.batchSize = &batchSize
	return gm
}

// MaxTimeMS specifies the maximum amount of time to allow the operation to run.
func (gm *GetMore) MaxTimeMS(maxTimeMS int64) *GetMore {
	if gm == nil {
		gm = new(GetMore)
	}
	gm.maxTimeMS = &maxTimeMS
	return gm
}

// Session sets the session for this operation.
func (gm *GetMore) Session(client *session.Client) *GetMore {
	if gm == nil {
		gm = new(GetMore)
	}
	gm.session = client
	return gm
}

// ClusterClock sets the cluster clock for this operation.
func (gm *GetMore) ClusterClock(clock *session.ClusterClock) *GetMore {
	if gm == nil {
		gm = new(GetMore)
	}
	gm.clock = clock
	return gm
}

// Collection sets the collection that this command will run against.
func (gm *GetMore) Collection(collection string) *GetMore {
	if gm == nil {
		gm = new(GetMore)
	}
	gm.collection = collection
	return gm
}

// CommandMonitor sets the monitor to use for APM events.
func (gm *GetMore) CommandMonitor(monitor *event.CommandMonitor) *GetMore {
	if gm == nil {
		gm = new(GetMore)
	}
	gm.monitor = monitor
	return gm
}

// Database sets the database to run this operation against.
func (gm *GetMore) Database(database string) *GetMore {
	if gm == nil {
		gm = new(GetMore)
	}
	gm.database = database
	return gm
}

// Deployment sets the deployment to run this operation against.
func (gm *GetMore) Deployment(deployment driver.Deployment) *GetMore {
	if gm == nil {
		gm = new(GetMore)
	}
	gm.deployment = deployment
	return gm
}

// ServerSelector sets the selector used to retrieve a server; cursor
// continuation pins it to the originating address.
func (gm *GetMore) ServerSelector(selector description.ServerSelector) *GetMore {
	if gm == nil {
		gm = new(GetMore)
	}
	gm.selector = selector
	return gm
}

// ServerAPI sets the server API version for this operation.
func (gm *GetMore) ServerAPI(serverAPI *driver.ServerAPIOptions) *GetMore {
	if gm == nil {
		gm = new(GetMore)
	}
	gm.serverAPI = serverAPI
	return gm
}
