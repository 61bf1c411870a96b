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

// Fsync performs an fsync operation, optionally locking the server against
// writes until FsyncUnlock is run.
type Fsync struct {
	async      *bool
	lock       *bool
	unlock     bool
	session    *session.Client
	clock      *session.ClusterClock
	monitor    *event.CommandMonitor
	deployment driver.Deployment
	selector   description.ServerSelector
	serverAPI  *driver.ServerAPIOptions
	result     bsoncore.Document
}

// NewFsync constructs and returns a new Fsync.
func NewFsync() *Fsync {
	return &Fsync{}
}

// NewFsyncUnlock constructs an Fsync that releases a previous fsync lock.
func NewFsyncUnlock() *Fsync {
	return &Fsync{unlock: true}
}

// Result returns the raw reply from executing this operation.
func (f *Fsync) Result() bsoncore.Document { return f.result }

func (f *Fsync) processResponse(info driver.ResponseInfo) error {
	f.result = info.ServerResponse
	return nil
}

// Execute runs this operation.
func (f *Fsync) Execute(ctx context.Context) error {
	if f.deployment == nil {
		return errors.New("the Fsync operation must have a Deployment set before Execute can be called")
	}
	return (&driver.Operation{
		CommandFn:         f.command,
		ProcessResponseFn: f.processResponse,
		Type:              driver.Write,
		Client:            f.session,
		Clock:             f.clock,
		CommandMonitor:    f.monitor,
		Database:          "admin",
		Deployment:        f.deployment,
		Selector:          f.selector,
		ServerAPI:         f.serverAPI,
	}).Execute(ctx, nil)
}

func (f *Fsync) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	if f.unlock {
		dst = bsoncore.AppendInt32Element(dst, "fsyncUnlock", 1)
		return dst, nil
	}
	dst = bsoncore.AppendInt32Element(dst, "fsync", 1)
	if f.async != nil {
		dst = bsoncore.AppendBooleanElement(dst, "async", *f.async)
	}
	if f.lock != nil {
		dst = bsoncore.AppendBooleanElement(dst, "lock", *f.lock)
	}
	return dst, nil
}

// Async specifies whether the fsync should run asynchronously.
func (f *Fsync) Async(async bool) *Fsync {
	if f == nil {
		f = new(Fsync)
	}
	f.async = &async
	return f
}

// Lock specifies whether the server should be locked against writes.
func (f *Fsync) Lock(lock bool) *Fsync {
	if f == nil {
		f = new(Fsync)
	}
	f.lock = &lock
	return f
}

// Session sets the session for this operation.
func (f *Fsync) Session(client *session.Client) *Fsync {
	if f == nil {
		f = new(Fsync)
	}
	f.session = client
	return f
}

// ClusterClock sets the cluster clock for this operation.
func (f *Fsync) ClusterClock(clock *session.ClusterClock) *Fsync {
	if f == nil {
		f = new(Fsync)
	}
	f.clock = clock
	return f
}

// CommandMonitor sets the monitor to use for APM events.
func (f *Fsync) CommandMonitor(monitor *event.CommandMonitor) *Fsync {
	if f == nil {
		f = new(Fsync)
	}
	f.monitor = monitor
	return f
}

// Deployment sets the deployment to run this operation against.
func (f *Fsync) Deployment(deployment driver.Deployment) *Fsync {
	if f == nil {
		f = new(Fsync)
	}
	f.deployment = deployment
	return f
}

// ServerSelector sets the selector used to retrieve a server.
func (f *Fsync) ServerSelector(selector description.ServerSelector) *Fsync {
	if f == nil {
		f = new(Fsync)
	}
	f.selector = selector
	return f
}

// ServerAPI sets the server API version for this operation.
func (f *Fsync) ServerAPI(serverAPI *driver.ServerAPIOptions) *Fsync {
	if f == nil {
		f = new(Fsync)
	}
	f.serverAPI = serverAPI
	return f
}
