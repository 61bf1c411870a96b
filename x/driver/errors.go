package driver

import (
	"errors"
	"fmt"
)

// Error kinds. These are typed
// structs rather than sentinel values so callers can carry a server code
// and error-labels list alongside the message.

// Error represents a command execution error from the database.
type Error struct {
	Code    int32
	Message string
	Labels  []string
	Name    string
	Wrapped error
}

func (e Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("(%s) %s", e.Name, e.Message)
	}
	return e.Message
}

func (e Error) Unwrap() error { return e.Wrapped }

// HasErrorLabel returns true if the error has the specified error label.
func (e Error) HasErrorLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// NotMaster error codes, per the server's error-code taxonomy.
const (
	errCodeNotWritablePrimary  = 10107
	errCodeNotPrimaryNoSecondaryOK = 13435
	errCodeNotPrimaryOrSecondary   = 13436
	errCodeLegacyNotPrimary        = 10058
	errCodeInterruptedAtShutdown   = 11600
	errCodeInterruptedDueToReplStateChange = 11602
	errCodeShutdownInProgress      = 91
)

var notMasterCodes = map[int32]struct{}{
	errCodeNotWritablePrimary:      {},
	errCodeNotPrimaryNoSecondaryOK: {},
	errCodeNotPrimaryOrSecondary:   {},
	errCodeLegacyNotPrimary:        {},
	errCodeInterruptedAtShutdown:   {},
	errCodeInterruptedDueToReplStateChange: {},
	errCodeShutdownInProgress:      {},
}

// NodeIsRecovering returns true if this error is a node-is-recovering error.
func (e Error) NodeIsRecovering() bool {
	switch e.Code {
	case 11600, 11602, 13436, 189, 91:
		return true
	}
	return false
}

// NodeIsShuttingDown returns true if this error is a node-is-shutting-down error.
func (e Error) NodeIsShuttingDown() bool {
	switch e.Code {
	case 11600, 91:
		return true
	}
	return false
}

// NotMaster returns true if this error is a not-master error.
func (e Error) NotMaster() bool {
	if _, ok := notMasterCodes[e.Code]; ok {
		return true
	}
	return e.NodeIsRecovering()
}

// NetworkError indicates a connection-level failure.
type NetworkError struct {
	Wrapped error
	Message string
}

func (e NetworkError) Error() string {
	if e.Message != "" {
		return e.Message + ": " + e.Wrapped.Error()
	}
	return e.Wrapped.Error()
}
func (e NetworkError) Unwrap() error { return e.Wrapped }

// NetworkTimeout wraps a NetworkError caused specifically by a deadline expiring.
type NetworkTimeout struct {
	NetworkError
}

// Unwrap exposes the inner NetworkError so errors.As sees both layers.
func (e NetworkTimeout) Unwrap() error { return e.NetworkError }

// HandshakeError indicates a TLS or hello/ismaster handshake failure.
type HandshakeError struct {
	Wrapped error
}

func (e HandshakeError) Error() string { return "handshake failed: " + e.Wrapped.Error() }
func (e HandshakeError) Unwrap() error { return e.Wrapped }

// AuthError indicates an authentication failure.
type AuthError struct {
	Message string
	Wrapped error
}

func (e AuthError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("auth error: %s: %s", e.Message, e.Wrapped)
	}
	return "auth error: " + e.Message
}
func (e AuthError) Unwrap() error { return e.Wrapped }

// ProtocolError indicates a framing or wire-version compatibility failure.
type ProtocolError struct {
	Message string
}

func (e ProtocolError) Error() string { return "protocol error: " + e.Message }

// SelectionError indicates server selection could not find a suitable server.
type SelectionError struct {
	Wrapped error
}

func (e SelectionError) Error() string {
	return fmt.Sprintf("server selection error: %s", e.Wrapped)
}
func (e SelectionError) Unwrap() error { return e.Wrapped }

// WriteConcernError represents a write concern error returned by the server.
type WriteConcernError struct {
	Code    int32
	Message string
	Labels  []string
}

func (e WriteConcernError) Error() string { return fmt.Sprintf("write concern error: %s", e.Message) }

// WriteError represents a per-document write error in a bulk.
type WriteError struct {
	Index   int
	Code    int32
	Message string
}

func (e WriteError) Error() string { return fmt.Sprintf("write error at index %d: %s", e.Index, e.Message) }

// IsDuplicateKeyCode reports whether code is a duplicate key error code (11000, 11001 or 12582).
func IsDuplicateKeyCode(code int32) bool {
	switch code {
	case 11000, 11001, 12582:
		return true
	}
	return false
}

// DocumentError indicates an encode-time failure for a specific document.
type DocumentError struct {
	Index int
	Err   error
}

func (e DocumentError) Error() string { return fmt.Sprintf("document at index %d: %s", e.Index, e.Err) }
func (e DocumentError) Unwrap() error { return e.Err }

// DocumentSizeError indicates a document or batch exceeds a server size limit.
type DocumentSizeError struct {
	Message string
}

func (e DocumentSizeError) Error() string { return e.Message }

// DecodingError indicates a response document could not be decoded.
type DecodingError struct {
	Wrapped error
}

func (e DecodingError) Error() string { return "decoding error: " + e.Wrapped.Error() }
func (e DecodingError) Unwrap() error { return e.Wrapped }

// InternalError indicates a programming invariant was violated.
type InternalError struct {
	Message string
}

func (e InternalError) Error() string { return "internal error: " + e.Message }

// Error label constants.
const (
	NetworkErrorLabel                   = "NetworkError"
	RetryableWriteErrorLabel             = "RetryableWriteError"
	TransientTransactionErrorLabel       = "TransientTransactionError"
	UnknownTransactionCommitResultLabel  = "UnknownTransactionCommitResult"
)

// IsNetworkError returns true if err is, or wraps, a NetworkError.
func IsNetworkError(err error) bool {
	var ne NetworkError
	return errors.As(err, &ne)
}

// IsTimeoutError returns true if err is, or wraps, a NetworkTimeout.
func IsTimeoutError(err error) bool {
	var nt NetworkTimeout
	return errors.As(err, &nt)
}

// Classification summarizes how Execute should react to a failed round trip:
// whether the topology needs updating, whether a retry is worth attempting,
// and which error labels the session machinery cares about.
type Classification struct {
	Err          error
	NetworkError bool
	NotMaster    bool
	Retryable    bool
}

// Classify inspects err and produces a Classification using the
// retryable-error rules: network errors and a fixed set of not-master/
// node-is-recovering codes are retryable; everything else is not.
func Classify(err error) Classification {
	var ne NetworkError
	if errors.As(err, &ne) {
		return Classification{Err: err, NetworkError: true, Retryable: true}
	}

	var cmdErr Error
	if errors.As(err, &cmdErr) {
		c := Classification{Err: err, NotMaster: cmdErr.NotMaster()}
		switch {
		case cmdErr.HasErrorLabel(RetryableWriteErrorLabel):
			c.Retryable = true
		case cmdErr.NotMaster():
			c.Retryable = true
		case IsDuplicateKeyCode(cmdErr.Code):
			c.Retryable = false
		}
		return c
	}

	return Classification{Err: err}
}
