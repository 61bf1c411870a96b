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

// Update performs an update operation.
type Update struct {
	bypassDocumentValidation *bool
	ordered                  *bool
	updates                  []bsoncore.Document
	session                  *session.Client
	clock                    *session.ClusterClock
	collection               string
	monitor                  *event.CommandMonitor
	database                 string
	deployment               driver.Deployment
	selector                 description.ServerSelector
	writeConcern             *writeconcern.WriteConcern
	retry                    *driver.RetryMode
	result                   UpdateResult
	serverAPI                *driver.ServerAPIOptions
}

// Upsert contains the information for an upsert in an UpdateResult.
type Upsert struct {
	Index int64
	ID    bsoncore.Value
}

// UpdateResult contains information for the result of an Update operation.
type UpdateResult struct {
	// Number of documents matched.
	N int32
	// Number of documents modified.
	NModified int32
	// Information about upserted documents.
	Upserted []Upsert
	// WriteErrors reported by the server.
	WriteErrors []driver.WriteError
	// WriteConcernError reported by the server, if any.
	WriteConcernError *driver.WriteConcernError
}

func buildUpdateResult(response bsoncore.Document) (UpdateResult, error) {
	elements, err := response.Elements()
	if err != nil {
		return UpdateResult{}, err
	}
	ur := UpdateResult{}
	for _, element := range elements {
		switch element.Key() {
		case "n":
			ur.N, _ = element.Value().AsInt32OK()
		case "nModified":
			ur.NModified, _ = element.Value().AsInt32OK()
		case "upserted":
			elems, err := element.Value().Array().Elements()
			if err != nil {
				break
			}
			for _, e := range elems {
				doc := e.Value().Document()
				if doc == nil {
					continue
				}
				var up Upsert
				if v, err := doc.LookupErr("index"); err == nil {
					up.Index, _ = v.AsInt64OK()
				}
				if v, err := doc.LookupErr("_id"); err == nil {
					up.ID = v
				}
				ur.Upserted = append(ur.Upserted, up)
			}
		case "writeErrors":
			ur.WriteErrors = extractWriteErrors(element.Value().Array())
		case "writeConcernError":
			ur.WriteConcernError = extractWriteConcernError(element.Value().Document())
		}
	}
	return ur, nil
}

// NewUpdate constructs and returns a new Update. Each updates document must
// have the form {q: <query>, u: <update>, multi: <bool>, upsert: <bool>}.
func NewUpdate(updates ...bsoncore.Document) *Update {
	return &Update{updates: updates}
}

// Result returns the result of executing this operation.
func (u *Update) Result() UpdateResult { return u.result }

func (u *Update) processResponse(info driver.ResponseInfo) error {
	ur, err := buildUpdateResult(info.ServerResponse)
	u.result.N += ur.N
	u.result.NModified += ur.NModified
	u.result.Upserted = append(u.result.Upserted, ur.Upserted...)
	u.result.WriteErrors = append(u.result.WriteErrors, ur.WriteErrors...)
	if ur.WriteConcernError != nil {
		u.result.WriteConcernError = ur.WriteConcernError
	}
	return err
}

// Execute runs this operation.
func (u *Update) Execute(ctx context.Context) error {
	if u.deployment == nil {
		return errors.New("the Update operation must have a Deployment set before Execute can be called")
	}
	batches := &driver.Batches{
		Identifier: "updates",
		Documents:  u.updates,
		Ordered:    u.ordered,
	}

	return (&driver.Operation{
		CommandFn:         u.command,
		ProcessResponseFn: u.processResponse,
		Batches:           batches,
		RetryMode:         u.retry,
		Type:              driver.Write,
		Client:            u.session,
		Clock:             u.clock,
		CommandMonitor:    u.monitor,
		Database:          u.database,
		Deployment:        u.deployment,
		Selector:          u.selector,
		WriteConcern:      u.writeConcern,
		ServerAPI:         u.serverAPI,
	}).Execute(ctx, nil)
}

func (u *Update) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "update", u.collection)
	if u.bypassDocumentValidation != nil && (desc.WireVersion != nil && desc.WireVersion.Includes(4)) {
		dst = bsoncore.AppendBooleanElement(dst, "bypassDocumentValidation", *u.bypassDocumentValidation)
	}
	if u.ordered != nil {
		dst = bsoncore.AppendBooleanElement(dst, "ordered", *u.ordered)
	}
	return dst, nil
}

// BypassDocumentValidation allows the operation to opt-out of document level validation.
func (u *Update) BypassDocumentValidation(bypassDocumentValidation bool) *Update {
	if u == nil {
		u = new(Update)
	}
	u.bypassDocumentValidation = &bypassDocumentValidation
	return u
}

// Ordered sets ordered.
func (u *Update) Ordered(ordered bool) *Update {
	if u == nil {
		u = new(Update)
	}
	u.ordered = &ordered
	return u
}

// Updates specifies an array of update statements to perform when this operation is executed.
func (u *Update) Updates(updates ...bsoncore.Document) *Update {
	if u == nil {
		u = new(Update)
	}
	u.updates = updates
	return u
}

// Session sets the session for this operation.
func (u *Update) Session(client *session.Client) *Update {
	if u == nil {
		u = new(Update)
	}
	u.session = client
	return u
}

// ClusterClock sets the cluster clock for this operation.
func (u *Update) ClusterClock(clock *session.ClusterClock) *Update {
	if u == nil {
		u = new(Update)
	}
	u.clock = clock
	return u
}

// Collection sets the collection that this command will run against.
func (u *Update) Collection(collection string) *Update {
	if u == nil {
		u = new(Update)
	}
	u.collection = collection
	return u
}

// CommandMonitor sets the monitor to use for APM events.
func (u *Update) CommandMonitor(monitor *event.CommandMonitor) *Update {
	if u == nil {
		u = new(Update)
	}
	u.monitor = monitor
	return u
}

// Database sets the database to run this operation against.
func (u *Update) Database(database string) *Update {
	if u == nil {
		u = new(Update)
	}
	u.database = database
	return u
}

// Deployment sets the deployment to run this operation against.
func (u *Update) Deployment(deployment driver.Deployment) *Update {
	if u == nil {
		u = new(Update)
	}
	u.deployment = deployment
	return u
}

// ServerSelector sets the selector used to retrieve a server.
func (u *Update) ServerSelector(selector description.ServerSelector) *Update {
	if u == nil {
		u = new(Update)
	}
	u.selector = selector
	return u
}

// WriteConcern sets the write concern for this operation.
func (u *Update) WriteConcern(writeConcern *writeconcern.WriteConcern) *Update {
	if u == nil {
		u = new(Update)
	}
	u.writeConcern = writeConcern
	return u
}

// Retry enables retryable mode for this operation. update_many statements
// are non-retryable; the caller must not enable retry when any statement
// has multi set.
func (u *Update) Retry(retry driver.RetryMode) *Update {
	if u == nil {
		u = new(Update)
	}
	u.retry = &retry
	return u
}

// ServerAPI sets the server API version for this operation.
func (u *Update) ServerAPI(serverAPI *driver.ServerAPIOptions) *Update {
	if u == nil {
		u = new(Update)
	}
	u.serverAPI = serverAPI
	return u
}
