package mongo

import (
	"context"
	"strconv"

	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
	"github.com/dbdrift/topologycore/x/driver/operation"
)

// IndexModel describes one index to create.
type IndexModel struct {
	Keys interface{}
	Name string
}

// IndexView is a handle for index management on a collection.
type IndexView struct {
	coll *Collection
}

// CreateOne creates a single index and returns its name.
func (iv IndexView) CreateOne(ctx context.Context, model IndexModel) (string, error) {
	names, err := iv.CreateMany(ctx, []IndexModel{model})
	if err != nil {
		return "", err
	}
	return names[0], nil
}

// CreateMany creates the given indexes and returns their names.
func (iv IndexView) CreateMany(ctx context.Context, models []IndexModel) ([]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(models) == 0 {
		return nil, ErrEmptySlice
	}

	names := make([]string, len(models))
	var arr []byte
	for i, model := range models {
		keysDoc, err := marshal(model.Keys, iv.coll.registry)
		if err != nil {
			return nil, err
		}
		name := model.Name
		if name == "" {
			name = defaultIndexName(keysDoc)
		}
		names[i] = name

		spec := bsoncore.AppendDocumentElement(nil, "key", keysDoc)
		spec = bsoncore.AppendStringElement(spec, "name", name)
		arr = bsoncore.AppendDocumentElement(arr, strconv.Itoa(i), bsoncore.BuildDocument(nil, spec))
	}

	op := operation.NewCreateIndexes(bsoncore.BuildDocument(nil, arr)).
		ClusterClock(iv.coll.client.clock).
		Collection(iv.coll.name).
		CommandMonitor(iv.coll.client.monitor).
		Database(iv.coll.db.name).
		Deployment(iv.coll.client.deployment).
		ServerSelector(iv.coll.client.writeSelector()).
		WriteConcern(iv.coll.writeConcern).
		ServerAPI(iv.coll.client.serverAPI)
	if err := op.Execute(ctx); err != nil {
		return nil, replaceErrors(err)
	}
	return names, nil
}

// DropOne drops the named index.
func (iv IndexView) DropOne(ctx context.Context, name string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	op := operation.NewDropIndexes(name).
		ClusterClock(iv.coll.client.clock).
		Collection(iv.coll.name).
		CommandMonitor(iv.coll.client.monitor).
		Database(iv.coll.db.name).
		Deployment(iv.coll.client.deployment).
		ServerSelector(iv.coll.client.writeSelector()).
		WriteConcern(iv.coll.writeConcern).
		ServerAPI(iv.coll.client.serverAPI)
	return replaceErrors(op.Execute(ctx))
}

// DropAll drops every index on the collection except the one on _id.
func (iv IndexView) DropAll(ctx context.Context) error {
	return iv.DropOne(ctx, "*")
}

// defaultIndexName derives the server's conventional name from the key
// specification, e.g. {a: 1, b: -1} -> "a_1_b_-1".
func defaultIndexName(keys bsoncore.Document) string {
	elems, err := keys.Elements()
	if err != nil {
		return ""
	}
	name := ""
	for i, e := range elems {
		if i > 0 {
			name += "_"
		}
		name += e.Key() + "_"
		if n, ok := e.Value().AsInt32OK(); ok {
			name += strconv.Itoa(int(n))
		} else {
			name += e.Value().StringValue()
		}
	}
	return name
}
