package operation

import (
	"context"
	"errors"

	"github.com/dbdrift/topologycore/description"
	"github.com/dbdrift/topologycore/event"
	"github.com/dbdrift/topologycore/readpref"
	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
	"github.com/dbdrift/topologycore/x/driver"
	"github.com/dbdrift/topologycore/x/driver/session"
)

// Command runs an arbitrary database command, backing RunCommand and the
// administrative passthroughs.
type Command struct {
	command        bsoncore.Document
	session        *session.Client
	clock          *session.ClusterClock
	monitor        *event.CommandMonitor
	database       string
	deployment     driver.Deployment
	readPreference *readpref.ReadPref
	selector       description.ServerSelector
	serverAPI      *driver.ServerAPIOptions
	result         bsoncore.Document
}

// NewCommand constructs and returns a new Command.
func NewCommand(command bsoncore.Document) *Command {
	return &Command{command: command}
}

// Result returns the raw reply document from executing this operation.
func (c *Command) Result() bsoncore.Document { return c.result }

func (c *Command) processResponse(info driver.ResponseInfo) error {
	c.result = info.ServerResponse
	return nil
}

// Execute runs this operation.
func (c *Command) Execute(ctx context.Context) error {
	if c.deployment == nil {
		return errors.New("the Command operation must have a Deployment set before Execute can be called")
	}
	return (&driver.Operation{
		CommandFn: func(dst []byte, desc description.SelectedServer) ([]byte, error) {
			elems, err := c.command.Elements()
			if err != nil {
				return nil, err
			}
			for _, e := range elems {
				dst = append(dst, e...)
			}
			return dst, nil
		},
		ProcessResponseFn: c.processResponse,
		Type:              driver.Read,
		Client:            c.session,
		Clock:             c.clock,
		CommandMonitor:    c.monitor,
		Database:          c.database,
		Deployment:        c.deployment,
		Selector:          c.selector,
		ReadPreference:    c.readPreference,
		ServerAPI:         c.serverAPI,
	}).Execute(ctx, nil)
}

// Session sets the session for this operation.
func (c *Command) Session(client *session.Client) *Command {
	if c == nil {
		c = new(Command)
	}
	c.session = client
	return c
}

// ClusterClock sets the cluster clock for this operation.
func (c *Command) ClusterClock(clock *session.ClusterClock) *Command {
	if c == nil {
		c = new(Command)
	}
	c.clock = clock
	return c
}

// CommandMonitor sets the monitor to use for APM events.
func (c *Command) CommandMonitor(monitor *event.CommandMonitor) *Command {
	if c == nil {
		c = new(Command)
	}
	c.monitor = monitor
	return c
}

// Database sets the database to run this operation against.
func (c *Command) Database(database string) *Command {
	if c == nil {
		c = new(Command)
	}
	c.database = database
	return c
}

// Deployment sets the deployment to run this operation against.
func (c *Command) Deployment(deployment driver.Deployment) *Command {
	if c == nil {
		c = new(Command)
	}
	c.deployment = deployment
	return c
}

// ReadPreference set the read preference used with this operation.
func (c *Command) ReadPreference(readPreference *readpref.ReadPref) *Command {
	if c == nil {
		c = new(Command)
	}
	c.readPreference = readPreference
	return c
}

// ServerSelector sets the selector used to retrieve a server.
func (c *Command) ServerSelector(selector description.ServerSelector) *Command {
	if c == nil {
		c = new(Command)
	}
	c.selector = selector
	return c
}

// ServerAPI sets the server API version for this operation.
func (c *Command) ServerAPI(serverAPI *driver.ServerAPIOptions) *Command {
	if c == nil {
		c = new(Command)
	}
	c.serverAPI = serverAPI
	return c
}
