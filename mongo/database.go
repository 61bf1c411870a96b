package mongo

import (
	"context"
	"time"

	"github.com/dbdrift/topologycore/codec"
	"github.com/dbdrift/topologycore/mongo/options"
	"github.com/dbdrift/topologycore/readconcern"
	"github.com/dbdrift/topologycore/readpref"
	"github.com/dbdrift/topologycore/writeconcern"
	"github.com/dbdrift/topologycore/x/driver/operation"
)

// Database is a value-object handle to a database: it carries a non-owning
// client reference and its own configuration overrides.
type Database struct {
	client         *Client
	name           string
	readConcern    *readconcern.ReadConcern
	writeConcern   *writeconcern.WriteConcern
	readPreference *readpref.ReadPref
	registry       codec.Codec
	maxTime        *time.Duration
}

func newDatabase(client *Client, name string, opts ...*options.DatabaseOptions) *Database {
	db := &Database{
		client:         client,
		name:           name,
		readConcern:    client.readConcern,
		writeConcern:   client.writeConcern,
		readPreference: client.readPreference,
		registry:       client.registry,
		maxTime:        client.maxTime,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if opt.ReadConcern != nil {
			db.readConcern = opt.ReadConcern
		}
		if opt.WriteConcern != nil {
			db.writeConcern = opt.WriteConcern
		}
		if opt.ReadPreference != nil {
			db.readPreference = opt.ReadPreference
		}
		if opt.Codec != nil {
			db.registry = opt.Codec
		}
		if opt.MaxTime != nil {
			db.maxTime = opt.MaxTime
		}
	}
	return db
}

// Client returns the Client the Database was created from.
func (db *Database) Client() *Client { return db.client }

// Name returns the name of the database.
func (db *Database) Name() string { return db.name }

// Collection returns a handle for a collection with the given name.
func (db *Database) Collection(name string, opts ...*options.CollectionOptions) *Collection {
	return newCollection(db, name, opts...)
}

// RunCommand executes the given command against the database and returns
// the raw reply as a SingleResult.
func (db *Database) RunCommand(ctx context.Context, runCommand interface{}, opts ...*options.RunCmdOptions) *SingleResult {
	if ctx == nil {
		ctx = context.Background()
	}

	rp := db.readPreference
	for _, opt := range opts {
		if opt != nil && opt.ReadPreference != nil {
			rp = opt.ReadPreference
		}
	}

	cmdDoc, err := marshal(runCommand, db.registry)
	if err != nil {
		return &SingleResult{err: err, registry: db.registry}
	}

	op := operation.NewCommand(cmdDoc).
		ClusterClock(db.client.clock).
		CommandMonitor(db.client.monitor).
		Database(db.name).
		Deployment(db.client.deployment).
		ReadPreference(rp).
		ServerSelector(db.client.readSelector(rp)).
		ServerAPI(db.client.serverAPI)
	if err := op.Execute(ctx); err != nil {
		return &SingleResult{err: replaceErrors(err), registry: db.registry}
	}
	return &SingleResult{doc: op.Result(), registry: db.registry}
}

// Drop drops the database.
func (db *Database) Drop(ctx context.Context) error {
	res := db.RunCommand(ctx, map[string]interface{}{"dropDatabase": int32(1)})
	return res.Err()
}
