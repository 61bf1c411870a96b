package operation

import (
	"context"
	"errors"

	"github.com/dbdrift/topologycore/description"
	"github.com/dbdrift/topologycore/event"
	"github.com/dbdrift/topologycore/writeconcern"
	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
	"github.com/dbdrift/topologycore/x/driver"
	"github.com/dbdrift/topologycore/x/driver/session"
)

// Delete performs a delete operation.
type Delete struct {
	deletes      []bsoncore.Document
	ordered      *bool
	session      *session.Client
	clock        *session.ClusterClock
	collection   string
	monitor      *event.CommandMonitor
	database     string
	deployment   driver.Deployment
	selector     description.ServerSelector
	writeConcern *writeconcern.WriteConcern
	retry        *driver.RetryMode
	result       DeleteResult
	serverAPI    *driver.ServerAPIOptions
}

// DeleteResult represents a delete result returned by the server.
type DeleteResult struct {
	// Number of documents successfully deleted.
	N int32
	// WriteErrors reported by the server.
	WriteErrors []driver.WriteError
	// WriteConcernError reported by the server, if any.
	WriteConcernError *driver.WriteConcernError
}

func buildDeleteResult(response bsoncore.Document) (DeleteResult, error) {
	elements, err := response.Elements()
	if err != nil {
		return DeleteResult{}, err
	}
	dr := DeleteResult{}
	for _, element := range elements {
		switch element.Key() {
		case "n":
			dr.N, _ = element.Value().AsInt32OK()
		case "writeErrors":
			dr.WriteErrors = extractWriteErrors(element.Value().Array())
		case "writeConcernError":
			dr.WriteConcernError = extractWriteConcernError(element.Value().Document())
		}
	}
	return dr, nil
}

// NewDelete constructs and returns a new Delete. Each deletes document must
// have the form {q: <query>, limit: <0 or 1>}.
func NewDelete(deletes ...bsoncore.Document) *Delete {
	return &Delete{deletes: deletes}
}

// Result returns the result of executing this operation.
func (d *Delete) Result() DeleteResult { return d.result }

func (d *Delete) processResponse(info driver.ResponseInfo) error {
	dr, err := buildDeleteResult(info.ServerResponse)
	d.result.N += dr.N
	d.result.WriteErrors = append(d.result.WriteErrors, dr.WriteErrors...)
	if dr.WriteConcernError != nil {
		d.result.WriteConcernError = dr.WriteConcernError
	}
	return err
}

// Execute runs this operation.
func (d *Delete) Execute(ctx context.Context) error {
	if d.deployment == nil {
		return errors.New("the Delete operation must have a Deployment set before Execute can be called")
	}
	batches := &driver.Batches{
		Identifier: "deletes",
		Documents:  d.deletes,
		Ordered:    d.ordered,
	}

	return (&driver.Operation{
		CommandFn:         d.command,
		ProcessResponseFn: d.processResponse,
		Batches:           batches,
		RetryMode:         d.retry,
		Type:              driver.Write,
		Client:            d.session,
		Clock:             d.clock,
		CommandMonitor:    d.monitor,
		Database:          d.database,
		Deployment:        d.deployment,
		Selector:          d.selector,
		WriteConcern:      d.writeConcern,
		ServerAPI:         d.serverAPI,
	}).Execute(ctx, nil)
}

func (d *Delete) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "delete", d.collection)
	if d.ordered != nil {
		dst = bsoncore.AppendBooleanElement(dst, "ordered", *d.ordered)
	}
	return dst, nil
}

// Deletes adds documents to this operation that will be used to determine what documents to delete.
func (d *Delete) Deletes(deletes ...bsoncore.Document) *Delete {
	if d == nil {
		d = new(Delete)
	}
	d.deletes = deletes
	return d
}

// Ordered sets ordered.
func (d *Delete) Ordered(ordered bool) *Delete {
	if d == nil {
		d = new(Delete)
	}
	d.ordered = &ordered
	return d
}

// Session sets the session for this operation.
func (d *Delete) Session(client *session.Client) *Delete {
	if d == nil {
		d = new(Delete)
	}
	d.session = client
	return d
}

// ClusterClock sets the cluster clock for this operation.
func (d *Delete) ClusterClock(clock *session.ClusterClock) *Delete {
	if d == nil {
		d = new(Delete)
	}
	d.clock = clock
	return d
}

// Collection sets the collection that this command will run against.
func (d *Delete) Collection(collection string) *Delete {
	if d == nil {
		d = new(Delete)
	}
	d.collection = collection
	return d
}

// CommandMonitor sets the monitor to use for APM events.
func (d *Delete) CommandMonitor(monitor *event.CommandMonitor) *Delete {
	if d == nil {
		d = new(Delete)
	}
	d.monitor = monitor
	return d
}

// Database sets the database to run this operation against.
func (d *Delete) Database(database string) *Delete {
	if d == nil {
		d = new(Delete)
	}
	d.database = database
	return d
}

// Deployment sets the deployment to run this operation against.
func (d *Delete) Deployment(deployment driver.Deployment) *Delete {
	if d == nil {
		d = new(Delete)
	}
	d.deployment = deployment
	return d
}

// ServerSelector sets the selector used to retrieve a server.
func (d *Delete) ServerSelector(selector description.ServerSelector) *Delete {
	if d == nil {
		d = new(Delete)
	}
	d.selector = selector
	return d
}

// WriteConcern sets the write concern for this operation.
func (d *Delete) WriteConcern(writeConcern *writeconcern.WriteConcern) *Delete {
	if d == nil {
		d = new(Delete)
	}
	d.writeConcern = writeConcern
	return d
}

// Retry enables retryable mode for this operation. delete_many statements
// are non-retryable.
func (d *Delete) Retry(retry driver.RetryMode) *Delete {
	if d == nil {
		d = new(Delete)
	}
	d.retry = &retry
	return d
}

// ServerAPI sets the server API version for this operation.
func (d *Delete) ServerAPI(serverAPI *driver.ServerAPIOptions) *Delete {
	if d == nil {
		d = new(Delete)
	}
	d.serverAPI = serverAPI
	return d
}
