package description

import (
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
)

func helloReply(build func(*bsoncore.DocumentBuilder)) bsoncore.Document {
	b := bsoncore.NewDocumentBuilder()
	build(b)
	b.AppendInt32("ok", 1)
	return b.Build()
}

func strArray(values ...string) bsoncore.Document {
	var elems []byte
	for i, v := range values {
		elems = bsoncore.AppendStringElement(elems, strconv.Itoa(i), v)
	}
	return bsoncore.Document(bsoncore.BuildDocument(nil, elems))
}

// The secondary reply from the discovery scenario: setName rs0, a primary
// field pointing elsewhere, and a two-host member list.
func TestNewServerFromReplySecondary(t *testing.T) {
	reply := helloReply(func(b *bsoncore.DocumentBuilder) {
		b.AppendBoolean("ismaster", false)
		b.AppendBoolean("secondary", true)
		b.AppendString("setName", "rs0")
		b.AppendString("primary", "h2:27017")
		b.AppendArray("hosts", strArray("h1:27017", "h2:27017"))
		b.AppendInt32("minWireVersion", 6)
		b.AppendInt32("maxWireVersion", 17)
		b.AppendInt32("maxWriteBatchSize", 1000)
	})

	desc, err := NewServerFromReply("h1:27017", reply)
	if err != nil {
		t.Fatalf("NewServerFromReply error: %v", err)
	}
	if desc.Kind != RSSecondary {
		t.Errorf("kind: want RSSecondary, got %s", desc.Kind)
	}
	if desc.SetName != "rs0" {
		t.Errorf("set name: want rs0, got %q", desc.SetName)
	}
	if string(desc.Primary) != "h2:27017" {
		t.Errorf("primary: want h2:27017, got %s", desc.Primary)
	}
	if diff := cmp.Diff([]string{"h1:27017", "h2:27017"}, desc.Hosts); diff != "" {
		t.Errorf("hosts mismatch (-want +got):\n%s", diff)
	}
	if desc.WireVersion == nil || desc.WireVersion.Min != 6 || desc.WireVersion.Max != 17 {
		t.Errorf("wire version: got %v", desc.WireVersion)
	}
	if desc.MaxBatchCount != 1000 {
		t.Errorf("maxWriteBatchSize: want 1000, got %d", desc.MaxBatchCount)
	}
}

func TestNewServerFromReplyKinds(t *testing.T) {
	testCases := []struct {
		name  string
		build func(*bsoncore.DocumentBuilder)
		want  ServerKind
	}{
		{
			"standalone",
			func(b *bsoncore.DocumentBuilder) { b.AppendBoolean("ismaster", true) },
			Standalone,
		},
		{
			"mongos",
			func(b *bsoncore.DocumentBuilder) {
				b.AppendBoolean("ismaster", true)
				b.AppendString("msg", "isdbgrid")
			},
			Mongos,
		},
		{
			"primary",
			func(b *bsoncore.DocumentBuilder) {
				b.AppendBoolean("ismaster", true)
				b.AppendString("setName", "rs0")
			},
			RSPrimary,
		},
		{
			"modern hello primary",
			func(b *bsoncore.DocumentBuilder) {
				b.AppendBoolean("isWritablePrimary", true)
				b.AppendString("setName", "rs0")
			},
			RSPrimary,
		},
		{
			"arbiter",
			func(b *bsoncore.DocumentBuilder) {
				b.AppendBoolean("ismaster", false)
				b.AppendBoolean("arbiterOnly", true)
				b.AppendString("setName", "rs0")
			},
			RSArbiter,
		},
		{
			"ghost",
			func(b *bsoncore.DocumentBuilder) { b.AppendBoolean("isreplicaset", true) },
			RSGhost,
		},
		{
			"rs other",
			func(b *bsoncore.DocumentBuilder) {
				b.AppendBoolean("ismaster", false)
				b.AppendString("setName", "rs0")
			},
			RSOther,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			desc, err := NewServerFromReply("h1:27017", helloReply(tc.build))
			if err != nil {
				t.Fatalf("NewServerFromReply error: %v", err)
			}
			if desc.Kind != tc.want {
				t.Errorf("kind: want %s, got %s", tc.want, desc.Kind)
			}
		})
	}
}

func TestNewServerFromReplyFailedCommand(t *testing.T) {
	reply := bsoncore.NewDocumentBuilder().
		AppendInt32("ok", 0).
		AppendString("errmsg", "unauthorized").
		Build()
	if _, err := NewServerFromReply("h1:27017", reply); err == nil {
		t.Error("expected error for ok:0 reply")
	}
}

func TestNewServerFromReplyCompressors(t *testing.T) {
	reply := helloReply(func(b *bsoncore.DocumentBuilder) {
		b.AppendBoolean("ismaster", true)
		b.AppendArray("compression", strArray("snappy", "zstd"))
	})
	desc, err := NewServerFromReply("h1:27017", reply)
	if err != nil {
		t.Fatalf("NewServerFromReply error: %v", err)
	}
	if diff := cmp.Diff([]string{"snappy", "zstd"}, desc.Compressors); diff != "" {
		t.Errorf("compressors mismatch (-want +got):\n%s", diff)
	}
}
