package codec

import (
	"fmt"
	"reflect"

	"github.com/dbdrift/topologycore/bson"
	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
)

// encodeBuiltin encodes the handful of shapes the driver core itself needs to
// build commands with, ahead of any application-supplied Codec: bson.D,
// bson.M, and plain map[string]interface{}. Any other top-level value,
// slices included, is rejected.
func encodeBuiltin(val interface{}) (bsoncore.Document, error) {
	switch v := val.(type) {
	case bson.D:
		return encodeD(v)
	case bson.M:
		return encodeM(v)
	case map[string]interface{}:
		return encodeM(bson.M(v))
	default:
		return nil, fmt.Errorf("codec: no default encoding for %T; supply a Codec", val)
	}
}

func encodeD(d bson.D) (bsoncore.Document, error) {
	b := bsoncore.NewDocumentBuilder()
	for _, e := range d {
		if err := appendValue(b, e.Key, e.Value); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

func encodeM(m bson.M) (bsoncore.Document, error) {
	b := bsoncore.NewDocumentBuilder()
	for k, v := range m {
		if err := appendValue(b, k, v); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

func appendValue(b *bsoncore.DocumentBuilder, key string, val interface{}) error {
	switch v := val.(type) {
	case string:
		b.AppendString(key, v)
	case int:
		b.AppendInt64(key, int64(v))
	case int32:
		b.AppendInt32(key, v)
	case int64:
		b.AppendInt64(key, v)
	case bool:
		b.AppendBoolean(key, v)
	case bsoncore.Document:
		b.AppendDocument(key, v)
	case bson.D:
		nested, err := encodeD(v)
		if err != nil {
			return err
		}
		b.AppendDocument(key, nested)
	case bson.M:
		nested, err := encodeM(v)
		if err != nil {
			return err
		}
		b.AppendDocument(key, nested)
	case nil:
		// nulls are rare in command documents; skip key rather than guess encoding.
	default:
		rv := reflect.ValueOf(val)
		if rv.Kind() == reflect.Slice {
			return fmt.Errorf("codec: no default encoding for slice field %q of type %T; supply a Codec", key, val)
		}
		return fmt.Errorf("codec: no default encoding for field %q of type %T; supply a Codec", key, val)
	}
	return nil
}

// decodeBuiltin decodes a raw document into the handful of shapes the driver
// core itself consumes without an application-supplied Codec.
func decodeBuiltin(doc bsoncore.Document, val interface{}) error {
	switch v := val.(type) {
	case *bsoncore.Document:
		*v = doc
		return nil
	case *map[string]interface{}:
		m, err := toMap(doc)
		if err != nil {
			return err
		}
		*v = m
		return nil
	case *bson.M:
		m, err := toMap(doc)
		if err != nil {
			return err
		}
		*v = bson.M(m)
		return nil
	default:
		return fmt.Errorf("codec: no default decoding into %T; supply a Codec", val)
	}
}

func toMap(doc bsoncore.Document) (map[string]interface{}, error) {
	elems, err := doc.Elements()
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(elems))
	for _, e := range elems {
		v := e.Value()
		switch v.Type {
		case bsoncore.TypeString:
			out[e.Key()] = v.StringValue()
		case bsoncore.TypeInt32:
			n, _ := v.AsInt32OK()
			out[e.Key()] = n
		case bsoncore.TypeInt64:
			n, _ := v.AsInt64OK()
			out[e.Key()] = n
		case bsoncore.TypeBoolean:
			b, _ := v.AsBooleanOK()
			out[e.Key()] = b
		case bsoncore.TypeDocument:
			m, err := toMap(v.Document())
			if err != nil {
				return nil, err
			}
			out[e.Key()] = m
		default:
			out[e.Key()] = v
		}
	}
	return out, nil
}
