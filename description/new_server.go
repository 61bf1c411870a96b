package description

import (
	"fmt"
	"time"

	"github.com/dbdrift/topologycore/address"
	"github.com/dbdrift/topologycore/tag"
	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
)

// NewServerFromReply parses a hello/ismaster reply document into a Server
// descriptor. Both the monitor
// probe and the connection handshake build descriptors through here.
func NewServerFromReply(addr address.Address, doc bsoncore.Document) (Server, error) {
	desc := NewDefaultServer(addr)

	// Servers report ok as a number (1 or 1.0); a boolean is also accepted.
	ok, isBool := lookupBool(doc, "ok")
	if !isBool {
		if v, err := doc.LookupErr("ok"); err == nil {
			n, isNum := v.AsInt32OK()
			ok = isNum && n == 1
		}
	}
	if !ok {
		msg := "hello command failed"
		if v, err := doc.LookupErr("errmsg"); err == nil {
			msg = v.StringValue()
		}
		return Server{}, fmt.Errorf("%s", msg)
	}

	isReplicaSet, _ := lookupBool(doc, "isreplicaset")
	isWritablePrimary, hasWritablePrimary := lookupBool(doc, "isWritablePrimary")
	isMaster, _ := lookupBool(doc, "ismaster")
	isPrimary := isWritablePrimary || (!hasWritablePrimary && isMaster)
	isSecondary, _ := lookupBool(doc, "secondary")
	isArbiter, _ := lookupBool(doc, "arbiterOnly")
	hidden, _ := lookupBool(doc, "hidden")
	var isMongos bool
	if v, err := doc.LookupErr("msg"); err == nil {
		isMongos = v.StringValue() == "isdbgrid"
	}
	setName := ""
	if v, err := doc.LookupErr("setName"); err == nil {
		setName = v.StringValue()
	}

	switch {
	case isMongos:
		desc.Kind = Mongos
	case setName != "" && isPrimary:
		desc.Kind = RSPrimary
	case setName != "" && hidden:
		desc.Kind = RSOther
	case setName != "" && isSecondary:
		desc.Kind = RSSecondary
	case setName != "" && isArbiter:
		desc.Kind = RSArbiter
	case setName != "":
		desc.Kind = RSOther
	case isReplicaSet:
		desc.Kind = RSGhost
	case hasWritablePrimary || hasField(doc, "ismaster"):
		desc.Kind = Standalone
	default:
		desc.Kind = Unknown
	}

	desc.SetName = setName
	desc.Hosts = lookupStrings(doc, "hosts")
	desc.Passives = lookupStrings(doc, "passives")
	desc.Arbiters = lookupStrings(doc, "arbiters")
	if v, err := doc.LookupErr("primary"); err == nil {
		desc.Primary = address.Address(v.StringValue()).Canonicalize()
	}
	if v, err := doc.LookupErr("me"); err == nil {
		desc.Me = address.Address(v.StringValue()).Canonicalize()
	}
	if v, err := doc.LookupErr("setVersion"); err == nil {
		if n, ok := v.AsInt32OK(); ok {
			desc.SetVersion = uint32(n)
		}
	}
	if v, err := doc.LookupErr("electionId"); err == nil {
		if v.Type == bsoncore.TypeObjectID && len(v.Data) == 12 {
			copy(desc.ElectionID[:], v.Data)
			desc.HasElectionID = true
		}
	}
	if v, err := doc.LookupErr("tags"); err == nil {
		if sub := v.Document(); sub != nil {
			desc.Tags = tagSetFromDocument(sub)
		}
	}
	if v, err := doc.LookupErr("maxWireVersion"); err == nil {
		maxWV, _ := v.AsInt32OK()
		minWV := int32(0)
		if mv, err := doc.LookupErr("minWireVersion"); err == nil {
			minWV, _ = mv.AsInt32OK()
		}
		vr := NewVersionRange(minWV, maxWV)
		desc.WireVersion = &vr
	}
	if v, err := doc.LookupErr("maxBsonObjectSize"); err == nil {
		if n, ok := v.AsInt32OK(); ok {
			desc.MaxDocumentSize = uint32(n)
		}
	}
	if v, err := doc.LookupErr("maxMessageSizeBytes"); err == nil {
		if n, ok := v.AsInt32OK(); ok {
			desc.MaxMessageSize = uint32(n)
		}
	}
	if v, err := doc.LookupErr("maxWriteBatchSize"); err == nil {
		if n, ok := v.AsInt32OK(); ok {
			desc.MaxBatchCount = uint32(n)
		}
	}
	if v, err := doc.LookupErr("logicalSessionTimeoutMinutes"); err == nil {
		if n, ok := v.AsInt32OK(); ok {
			desc.SessionTimeoutMinutes = uint32(n)
		}
	}
	desc.Compressors = lookupStrings(doc, "compression")

	if v, err := doc.LookupErr("lastWrite", "lastWriteDate"); err == nil {
		if ms, ok := v.AsInt64OK(); ok {
			desc.LastWriteTime = time.Unix(ms/1000, (ms%1000)*int64(time.Millisecond))
		}
	}
	if v, err := doc.LookupErr("topologyVersion"); err == nil {
		if tvDoc := v.Document(); tvDoc != nil {
			tv := &TopologyVersion{}
			if pid, err := tvDoc.LookupErr("processId"); err == nil {
				tv.ProcessID = fmt.Sprintf("%x", pid.Data)
			}
			if counter, err := tvDoc.LookupErr("counter"); err == nil {
				tv.Counter, _ = counter.AsInt64OK()
			}
			desc.TopologyVersion = tv
		}
	}

	return desc, nil
}

func tagSetFromDocument(doc bsoncore.Document) tag.Set {
	elems, err := doc.Elements()
	if err != nil {
		return nil
	}
	set := make(tag.Set, 0, len(elems))
	for _, e := range elems {
		set = append(set, tag.Tag{Name: e.Key(), Value: e.Value().StringValue()})
	}
	return set
}

func lookupStrings(doc bsoncore.Document, key string) []string {
	v, err := doc.LookupErr(key)
	if err != nil {
		return nil
	}
	elems, err := v.Array().Elements()
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range elems {
		if s, ok := e.Value().StringValueOK(); ok {
			out = append(out, s)
		}
	}
	return out
}

func lookupBool(doc bsoncore.Document, key string) (bool, bool) {
	v, err := doc.LookupErr(key)
	if err != nil {
		return false, false
	}
	return v.AsBooleanOK()
}

func hasField(doc bsoncore.Document, key string) bool {
	_, err := doc.LookupErr(key)
	return err == nil
}
