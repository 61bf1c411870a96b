package driver

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dbdrift/topologycore/description"
	"github.com/dbdrift/topologycore/event"
	"github.com/dbdrift/topologycore/readconcern"
	"github.com/dbdrift/topologycore/readpref"
	"github.com/dbdrift/topologycore/writeconcern"
	"github.com/dbdrift/topologycore/x/bsonx/bsoncore"
	"github.com/dbdrift/topologycore/x/driver/session"
	"github.com/dbdrift/topologycore/x/driver/wiremessage"
)

// OpType determines whether an Operation is selected via a writable or a
// readable server selector.
type OpType uint8

// Operation types.
const (
	Read OpType = iota
	Write
)

// CommandFn builds the command body for this operation given the server it
// was selected against (so it can gate fields on wire version).
type CommandFn func(dst []byte, desc description.SelectedServer) ([]byte, error)

// ProcessResponseFn consumes a successful server reply.
type ProcessResponseFn func(info ResponseInfo) error

// Operation is the generic command executor: it builds
// the command, selects a server, writes/reads through a Connection, decodes
// the reply, classifies any error, and retries once if the operation and
// failure are both retryable.
type Operation struct {
	CommandFn         CommandFn
	ProcessResponseFn ProcessResponseFn
	Batches           *Batches
	RetryMode         *RetryMode
	Type              OpType
	Client            *session.Client
	Clock             *session.ClusterClock
	CommandMonitor    *event.CommandMonitor
	Crypt             Crypt
	Database          string
	Collection        string
	Deployment        Deployment
	Selector          description.ServerSelector
	ReadConcern       *readconcern.ReadConcern
	ReadPreference    *readpref.ReadPref
	WriteConcern      *writeconcern.WriteConcern
	ServerAPI         *ServerAPIOptions
	MinimumWriteConcernWireVersion int32

	result bsoncore.Document
}

// ResultDocument returns the raw server reply of the last successful execution.
func (op Operation) ResultDocument() bsoncore.Document { return op.result }

// Execute runs the command, retrying once on a retryable failure when a
// retry mode is enabled.
func (op *Operation) Execute(ctx context.Context, cb func()) error {
	if op.Deployment == nil {
		return InternalError{Message: "an Operation must have a Deployment set before Execute can be called"}
	}

	selector := op.selector()

	if op.Batches == nil || op.Batches.Size() == 0 {
		return op.executeOnce(ctx, selector, -1)
	}

	for op.Batches.Size() > 0 {
		if err := op.executeOnce(ctx, selector, 0); err != nil {
			if op.Batches.IsOrdered() {
				return err
			}
			// unordered: keep going, the per-document write errors were already
			// captured by ProcessResponseFn.
		}
	}
	return nil
}

// maxBatchCount/maxBatchSize are defaults used when the selected server's
// descriptor does not advertise limits.
const (
	maxBatchCount = 100000
	maxBatchSize  = 16 * 1000 * 1000
)

func (op *Operation) selector() description.ServerSelector {
	if op.Selector != nil {
		return op.Selector
	}
	if op.Type == Write {
		return description.WriteSelector{}
	}
	rp := op.ReadPreference
	if rp == nil {
		rp = readpref.Primary()
	}
	return description.ReadPrefSelectorFn(rp)
}

func (op *Operation) executeOnce(ctx context.Context, selector description.ServerSelector, batchIndex int) error {
	retryable := op.retryableNow()

	server, conn, err := op.selectAndConnect(ctx, selector)
	if err != nil {
		return SelectionError{Wrapped: err}
	}
	defer conn.Close()

	// Batch splitting uses the selected server's advertised limits.
	if op.Batches != nil {
		desc := conn.Description()
		count := int(desc.MaxBatchCount)
		if count == 0 {
			count = maxBatchCount
		}
		size := int(desc.MaxMessageSize)
		if size == 0 {
			size = maxBatchSize
		}
		if err := op.Batches.AdvanceBatches(count, size); err != nil {
			return err
		}
		docLimit := int(desc.MaxDocumentSize)
		if docLimit == 0 {
			docLimit = maxBatchSize
		}
		if len(op.Batches.Current) == 1 && len(op.Batches.Current[0]) > docLimit {
			return DocumentSizeError{
				Message: fmt.Sprintf("document size %d exceeds the server limit of %d bytes", len(op.Batches.Current[0]), docLimit),
			}
		}
	}

	err = op.roundTrip(ctx, server, conn)
	if err == nil {
		return nil
	}

	classification := Classify(err)
	op.reportFailure(classification, conn.Description().Addr.String())

	if !retryable || !classification.Retryable {
		return err
	}

	// Retry once against a freshly selected connection.
	server2, conn2, selErr := op.selectAndConnect(ctx, selector)
	if selErr != nil {
		return err // surface the original error if we can't even reselect
	}
	defer conn2.Close()
	retryErr := op.roundTrip(ctx, server2, conn2)
	if retryErr != nil {
		classification2 := Classify(retryErr)
		op.reportFailure(classification2, conn2.Description().Addr.String())
		return retryErr
	}
	return nil
}

func (op *Operation) retryableNow() bool {
	if op.RetryMode == nil {
		return false
	}
	return op.RetryMode.Enabled()
}

func (op *Operation) selectAndConnect(ctx context.Context, selector description.ServerSelector) (Server, Connection, error) {
	server, err := op.Deployment.SelectServer(ctx, selector)
	if err != nil {
		return nil, nil, err
	}
	conn, err := server.Connection(ctx)
	if err != nil {
		return nil, nil, err
	}
	return server, conn, nil
}

// TopologyKinder is implemented by selected servers that know which
// topology kind they were selected from; command building depends on it for
// the mongos read-preference passthrough.
type TopologyKinder interface {
	TopologyKind() description.TopologyKind
}

func (op *Operation) roundTrip(ctx context.Context, server Server, conn Connection) error {
	desc := description.SelectedServer{Server: conn.Description()}
	if tk, ok := server.(TopologyKinder); ok {
		desc.Kind = tk.TopologyKind()
	}

	var cmdBody []byte
	var err error
	if op.CommandFn != nil {
		cmdBody, err = op.CommandFn(nil, desc)
		if err != nil {
			return err
		}
	}

	if op.Batches != nil && len(op.Batches.Current) > 0 {
		var arr []byte
		for i, doc := range op.Batches.Current {
			arr = bsoncore.AppendDocumentElement(arr, strconv.Itoa(i), doc)
		}
		cmdBody = bsoncore.AppendArrayElement(cmdBody, op.Batches.Identifier, bsoncore.BuildDocument(nil, arr))
	}

	cmdBody, err = op.addConcerns(cmdBody, desc)
	if err != nil {
		return err
	}
	cmdBody = op.addReadPreferencePassthrough(cmdBody, desc)
	cmdBody = op.addSession(cmdBody, desc)

	commandDoc := op.finalizeCommand(cmdBody)
	commandName := firstKey(commandDoc)

	wm, reqID, err := op.encodeWireMessage(commandDoc, desc)
	if err != nil {
		return err
	}

	op.publishStarted(commandDoc, commandName, reqID, conn.ID())
	start := time.Now()

	if err := conn.WriteWireMessage(ctx, wm); err != nil {
		op.publishFailed(commandName, reqID, conn.ID(), time.Since(start), err)
		return NetworkError{Wrapped: err, Message: "error writing wire message"}
	}

	replyBytes, err := conn.ReadWireMessage(ctx)
	if err != nil {
		op.publishFailed(commandName, reqID, conn.ID(), time.Since(start), err)
		return NetworkError{Wrapped: err, Message: "error reading wire message"}
	}

	reply, err := decodeReply(replyBytes)
	if err != nil {
		op.publishFailed(commandName, reqID, conn.ID(), time.Since(start), err)
		return DecodingError{Wrapped: err}
	}

	if ct, lookupErr := reply.LookupErr("$clusterTime"); lookupErr == nil && op.Clock != nil {
		op.Clock.AdvanceClusterTime(ct.Document())
	}

	if err := checkCommandError(reply); err != nil {
		op.publishFailed(commandName, reqID, conn.ID(), time.Since(start), err)
		return err
	}

	op.publishSucceeded(commandName, reqID, conn.ID(), time.Since(start), reply)

	op.result = reply
	if op.ProcessResponseFn != nil {
		return op.ProcessResponseFn(ResponseInfo{
			ServerResponse:         reply,
			Server:                 server,
			Connection:             conn,
			ConnectionDescription:  conn.Description(),
		})
	}
	return nil
}

// addConcerns appends the write concern (for writes) or read concern (for
// reads) to the command body when one is configured.
func (op *Operation) addConcerns(dst []byte, desc description.SelectedServer) ([]byte, error) {
	if op.Type == Write && op.WriteConcern != nil {
		if err := op.WriteConcern.Validate(); err != nil {
			return nil, err
		}
		w, j, wtimeout := op.WriteConcern.Elements()
		var elems []byte
		switch wv := w.(type) {
		case int:
			elems = bsoncore.AppendInt32Element(elems, "w", int32(wv))
		case string:
			if wv != "" {
				elems = bsoncore.AppendStringElement(elems, "w", wv)
			}
		}
		if j != nil {
			elems = bsoncore.AppendBooleanElement(elems, "j", *j)
		}
		if wtimeout > 0 {
			elems = bsoncore.AppendInt64Element(elems, "wtimeout", int64(wtimeout/time.Millisecond))
		}
		if elems != nil {
			dst = bsoncore.AppendDocumentElement(dst, "writeConcern", bsoncore.BuildDocument(nil, elems))
		}
		return dst, nil
	}
	if op.Type == Read && op.ReadConcern != nil && !op.ReadConcern.IsImplicit() {
		elems := bsoncore.AppendStringElement(nil, "level", op.ReadConcern.GetLevel())
		dst = bsoncore.AppendDocumentElement(dst, "readConcern", bsoncore.BuildDocument(nil, elems))
	}
	return dst, nil
}

// addReadPreferencePassthrough appends $readPreference when routing through
// a mongos: the proxy applies the preference server-side.
func (op *Operation) addReadPreferencePassthrough(dst []byte, desc description.SelectedServer) []byte {
	if op.Type != Read || op.ReadPreference == nil {
		return dst
	}
	if desc.Kind != description.Sharded && desc.Server.Kind != description.Mongos {
		return dst
	}
	rp := op.ReadPreference
	if rp.Mode() == readpref.PrimaryMode {
		return dst
	}

	elems := bsoncore.AppendStringElement(nil, "mode", rp.Mode().String())
	if tagSets := rp.TagSets(); len(tagSets) > 0 {
		var arr []byte
		for i, set := range tagSets {
			var tagElems []byte
			for _, t := range set {
				tagElems = bsoncore.AppendStringElement(tagElems, t.Name, t.Value)
			}
			arr = bsoncore.AppendDocumentElement(arr, strconv.Itoa(i), bsoncore.BuildDocument(nil, tagElems))
		}
		elems = bsoncore.AppendArrayElement(elems, "tags", bsoncore.BuildDocument(nil, arr))
	}
	if ms, set := rp.MaxStaleness(); set {
		elems = bsoncore.AppendInt32Element(elems, "maxStalenessSeconds", int32(ms/time.Second))
	}
	return bsoncore.AppendDocumentElement(dst, "$readPreference", bsoncore.BuildDocument(nil, elems))
}

// addSession appends the logical session id (binary subtype 4) when the
// operation runs under a session.
func (op *Operation) addSession(dst []byte, desc description.SelectedServer) []byte {
	if op.Client == nil || desc.SessionTimeoutMinutes == 0 {
		return dst
	}
	idDoc := bsoncore.AppendBinaryElementSubtype(nil, "id", 0x04, op.Client.SessionID[:])
	dst = bsoncore.AppendDocumentElement(dst, "lsid", bsoncore.BuildDocument(nil, idDoc))
	return dst
}

// finalizeCommand wraps the command-specific elements built by CommandFn
// with the fields every command carries: $db, gossipped $clusterTime, and
// the Stable API passthrough.
func (op *Operation) finalizeCommand(cmdBody []byte) bsoncore.Document {
	extra := bsoncore.AppendStringElement(nil, "$db", op.Database)
	if op.Clock != nil {
		if ct := op.Clock.GetClusterTime(); ct != nil {
			extra = bsoncore.AppendDocumentElement(extra, "$clusterTime", ct)
		}
	}
	if op.ServerAPI != nil {
		extra = bsoncore.AppendStringElement(extra, "apiVersion", op.ServerAPI.ServerAPIVersion)
		if op.ServerAPI.Strict != nil {
			extra = bsoncore.AppendBooleanElement(extra, "apiStrict", *op.ServerAPI.Strict)
		}
		if op.ServerAPI.DeprecationErrors != nil {
			extra = bsoncore.AppendBooleanElement(extra, "apiDeprecationErrors", *op.ServerAPI.DeprecationErrors)
		}
	}
	return bsoncore.Document(bsoncore.BuildDocument(nil, cmdBody, extra))
}

func firstKey(doc bsoncore.Document) string {
	elems, err := doc.Elements()
	if err != nil || len(elems) == 0 {
		return ""
	}
	return elems[0].Key()
}

func (op *Operation) encodeWireMessage(cmd bsoncore.Document, desc description.SelectedServer) ([]byte, int32, error) {
	reqID := nextRequestID()
	// OP_MSG body: flagBits(4) + section kind byte(0) + body document.
	body := make([]byte, 0, 5+len(cmd))
	body = append(body, 0, 0, 0, 0) // flagBits
	body = append(body, 0)          // section kind 0: body
	body = append(body, cmd...)

	compressible := wiremessage.IsCompressibleCommand(firstKey(cmd))
	compressor := desc.Compressor
	var payload []byte
	opcode := wiremessage.OpMsg
	if compressible && compressor != "" {
		id, ok := wiremessage.CompressorIDFromString(compressor)
		if ok {
			compressed, err := wiremessage.CompressMessage(wiremessage.OpMsg, body, wiremessage.CompressOpts{Compressor: id})
			if err == nil {
				payload = compressed
				opcode = wiremessage.OpCompressed
			}
		}
	}
	if payload == nil {
		payload = body
	}

	dst := wiremessage.AppendHeader(nil, 0, reqID, 0, opcode)
	dst = append(dst, payload...)
	dst = wiremessage.UpdateLength(dst, 0, int32(len(dst)))
	return dst, reqID, nil
}

func decodeReply(wm []byte) (bsoncore.Document, error) {
	header, rest, err := wiremessage.ReadHeader(wm)
	if err != nil {
		return nil, err
	}
	body := rest
	opcode := header.OpCode
	if opcode == wiremessage.OpCompressed {
		orig, decompressed, err := wiremessage.DecompressMessage(rest)
		if err != nil {
			return nil, err
		}
		opcode = orig
		body = decompressed
	}
	if opcode != wiremessage.OpMsg {
		return nil, fmt.Errorf("unsupported reply opcode %s", opcode)
	}
	if len(body) < 5 {
		return nil, fmt.Errorf("malformed OP_MSG body")
	}
	body = body[4:] // skip flagBits
	// kind byte 0: document follows directly.
	if body[0] != 0 {
		return nil, fmt.Errorf("unsupported OP_MSG section kind %d", body[0])
	}
	doc := bsoncore.Document(body[1:])
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

func checkCommandError(reply bsoncore.Document) error {
	okVal, err := reply.LookupErr("ok")
	if err == nil {
		if ok, isBool := okVal.AsBooleanOK(); isBool && !ok {
			return buildCommandError(reply)
		}
		if n, isNum := okVal.AsInt32OK(); isNum && n == 0 {
			return buildCommandError(reply)
		}
	}
	return nil
}

func buildCommandError(reply bsoncore.Document) error {
	var code int32
	var msg string
	if v, err := reply.LookupErr("code"); err == nil {
		code, _ = v.AsInt32OK()
	}
	if v, err := reply.LookupErr("errmsg"); err == nil {
		msg = v.StringValue()
	}
	var labels []string
	if v, err := reply.LookupErr("errorLabels"); err == nil {
		arr := v.Array()
		i := 0
		for {
			el := arr.Index(i)
			if el.Type == 0 {
				break
			}
			labels = append(labels, el.StringValue())
			i++
		}
	}
	return Error{Code: code, Message: msg, Labels: labels}
}

var requestIDCounter int32

func nextRequestID() int32 {
	requestIDCounter++
	return requestIDCounter
}

func (op *Operation) publishStarted(cmd bsoncore.Document, name string, reqID int32, connID string) {
	if op.CommandMonitor == nil || op.CommandMonitor.Started == nil {
		return
	}
	op.CommandMonitor.Started(event.CommandStartedEvent{
		Command: cmd, DatabaseName: op.Database, CommandName: name, RequestID: int64(reqID), ConnectionID: connID,
	})
}

func (op *Operation) publishSucceeded(name string, reqID int32, connID string, dur time.Duration, reply bsoncore.Document) {
	if op.CommandMonitor == nil || op.CommandMonitor.Succeeded == nil {
		return
	}
	op.CommandMonitor.Succeeded(event.CommandSucceededEvent{
		CommandName: name, RequestID: int64(reqID), ConnectionID: connID, Duration: dur, Reply: reply,
	})
}

func (op *Operation) publishFailed(name string, reqID int32, connID string, dur time.Duration, err error) {
	if op.CommandMonitor == nil || op.CommandMonitor.Failed == nil {
		return
	}
	op.CommandMonitor.Failed(event.CommandFailedEvent{
		CommandName: name, RequestID: int64(reqID), ConnectionID: connID, Duration: dur, Failure: err,
	})
}

// reportFailure feeds topology-relevant errors back to the Deployment:
// errors that indicate a server is no longer usable are reported to the
// topology before being surfaced. It also clears the session's transaction
// pin on transient transaction errors (network errors, or replies labelled
// TransientTransactionError).
func (op *Operation) reportFailure(c Classification, addr string) {
	if reporter, ok := op.Deployment.(interface {
		ProcessFailure(addr string, err error, isNetworkError bool, isNotMaster bool)
	}); ok {
		reporter.ProcessFailure(addr, c.Err, c.NetworkError, c.NotMaster)
	}

	if op.Client == nil {
		return
	}
	transient := c.NetworkError
	if cmdErr, ok := c.Err.(Error); ok && cmdErr.HasErrorLabel(TransientTransactionErrorLabel) {
		transient = true
	}
	if transient && op.Client.InActiveTransaction() {
		op.Client.UnpinServer()
	}
}
