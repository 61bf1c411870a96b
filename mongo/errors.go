package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dbdrift/topologycore/x/driver"
	"github.com/dbdrift/topologycore/x/driver/topology"
)

// ErrClientConnected is returned when Connect is called on an already
// connected client.
var ErrClientConnected = errors.New("client is already connected")

// ErrClientDisconnected is returned when a disconnected client is used to
// run an operation.
var ErrClientDisconnected = errors.New("client is disconnected")

// ErrNilDocument is returned when a nil document is passed to a CRUD method.
var ErrNilDocument = errors.New("document is nil")

// ErrNoDocuments is returned by SingleResult methods when the operation that
// created the result matched no documents.
var ErrNoDocuments = errors.New("mongo: no documents in result")

// ErrEmptySlice is returned when an empty slice is passed to a CRUD method
// that requires a non-empty slice.
var ErrEmptySlice = errors.New("must provide at least one element in input slice")

// ErrClientDestroyedBeforeCursor is returned when a cursor outlives its
// originating client.
var ErrClientDestroyedBeforeCursor = errors.New("cursor used after its client was disconnected")

// CommandError represents a server error during execution of a command,
// carrying the server code and error labels.
type CommandError struct {
	Code    int32
	Message string
	Labels  []string
	Name    string
	Wrapped error
}

// Error implements the error interface.
func (e CommandError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("(%v) %v", e.Name, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e CommandError) Unwrap() error { return e.Wrapped }

// HasErrorLabel returns true if the error contains the specified label.
func (e CommandError) HasErrorLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// WriteError is a non-write-concern failure of an individual write in a
// write operation.
type WriteError struct {
	Index   int
	Code    int
	Message string
}

func (we WriteError) Error() string { return we.Message }

// WriteErrors is a group of write errors that occurred during execution of
// a write operation.
type WriteErrors []WriteError

// Error implements the error interface.
func (we WriteErrors) Error() string {
	var buf strings.Builder
	fmt.Fprint(&buf, "write errors: [")
	for idx, err := range we {
		if idx != 0 {
			fmt.Fprintf(&buf, ", ")
		}
		fmt.Fprintf(&buf, "{%s}", err)
	}
	fmt.Fprint(&buf, "]")
	return buf.String()
}

// WriteConcernError represents a write concern failure.
type WriteConcernError struct {
	Name    string
	Code    int
	Message string
}

// Error implements the error interface.
func (wce WriteConcernError) Error() string {
	if wce.Name != "" {
		return fmt.Sprintf("(%v) %v", wce.Name, wce.Message)
	}
	return wce.Message
}

// WriteException is the error type returned by write methods: the
// aggregation of per-document errors and any write concern error.
type WriteException struct {
	WriteConcernError *WriteConcernError
	WriteErrors       WriteErrors
	Labels            []string
}

// Error implements the error interface.
func (mwe WriteException) Error() string {
	var causes []string
	if mwe.WriteConcernError != nil {
		causes = append(causes, "write concern error: "+mwe.WriteConcernError.Error())
	}
	if len(mwe.WriteErrors) > 0 {
		causes = append(causes, "write errors: "+mwe.WriteErrors.Error())
	}
	if len(causes) == 0 {
		return "multiple write errors"
	}
	return "multiple write errors: [" + strings.Join(causes, "], [") + "]"
}

// BulkWriteError is an error that occurred during execution of one
// sub-operation of a BulkWrite, tagged with the originating model.
type BulkWriteError struct {
	WriteError
	Request WriteModel
}

// Error implements the error interface.
func (bwe BulkWriteError) Error() string { return bwe.WriteError.Error() }

// BulkWriteException is the error type returned by BulkWrite and
// InsertMany operations.
type BulkWriteException struct {
	WriteConcernError *WriteConcernError
	WriteErrors       []BulkWriteError
	Labels            []string
}

// Error implements the error interface.
func (bwe BulkWriteException) Error() string {
	var buf strings.Builder
	fmt.Fprint(&buf, "bulk write exception: ")
	if bwe.WriteConcernError != nil {
		fmt.Fprintf(&buf, "write concern error: %s, ", bwe.WriteConcernError.Error())
	}
	if len(bwe.WriteErrors) > 0 {
		fmt.Fprint(&buf, "write errors: [")
		for i, we := range bwe.WriteErrors {
			if i != 0 {
				fmt.Fprint(&buf, ", ")
			}
			fmt.Fprintf(&buf, "{%s}", we.Error())
		}
		fmt.Fprint(&buf, "]")
	}
	return buf.String()
}

// IsDuplicateKeyError returns true if err is a duplicate key error.
func IsDuplicateKeyError(err error) bool {
	var cmdErr CommandError
	if errors.As(err, &cmdErr) && driver.IsDuplicateKeyCode(cmdErr.Code) {
		return true
	}
	var wex WriteException
	if errors.As(err, &wex) {
		for _, we := range wex.WriteErrors {
			if driver.IsDuplicateKeyCode(int32(we.Code)) {
				return true
			}
		}
	}
	var bwex BulkWriteException
	if errors.As(err, &bwex) {
		for _, we := range bwex.WriteErrors {
			if driver.IsDuplicateKeyCode(int32(we.Code)) {
				return true
			}
		}
	}
	return false
}

// IsNetworkError returns true if err originated from a network failure.
func IsNetworkError(err error) bool {
	return driver.IsNetworkError(err)
}

// IsTimeout returns true if err was caused by a timeout.
func IsTimeout(err error) bool {
	if driver.IsTimeoutError(err) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// replaceErrors maps internal driver errors into the public taxonomy.
func replaceErrors(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, topology.ErrTopologyClosed) {
		return ErrClientDisconnected
	}

	var de driver.Error
	if errors.As(err, &de) {
		return CommandError{
			Code:    de.Code,
			Message: de.Message,
			Labels:  de.Labels,
			Name:    de.Name,
			Wrapped: de.Wrapped,
		}
	}
	return err
}
