package driver

import (
	"errors"
	"testing"
)

func TestClassifyNetworkError(t *testing.T) {
	err := NetworkError{Wrapped: errors.New("connection reset"), Message: "read failed"}
	c := Classify(err)
	if !c.NetworkError {
		t.Error("network error not classified as such")
	}
	if !c.Retryable {
		t.Error("network errors must be retryable")
	}
}

func TestClassifyNotMasterCodes(t *testing.T) {
	for _, code := range []int32{10107, 13435, 13436, 10058, 11600, 11602, 91} {
		c := Classify(Error{Code: code, Message: "not master"})
		if !c.NotMaster {
			t.Errorf("code %d: want NotMaster classification", code)
		}
		if !c.Retryable {
			t.Errorf("code %d: not-master errors are retryable", code)
		}
	}
}

func TestClassifyDuplicateKeyNotRetryable(t *testing.T) {
	c := Classify(Error{Code: 11000, Message: "E11000 duplicate key"})
	if c.Retryable {
		t.Error("duplicate key errors must not be retried")
	}
	if c.NotMaster {
		t.Error("duplicate key misclassified as not-master")
	}
}

func TestClassifyRetryableLabel(t *testing.T) {
	c := Classify(Error{Code: 112, Labels: []string{RetryableWriteErrorLabel}})
	if !c.Retryable {
		t.Error("RetryableWriteError label not honored")
	}
}

func TestClassifyWrappedNetworkError(t *testing.T) {
	inner := NetworkError{Wrapped: errors.New("broken pipe")}
	wrapped := NetworkTimeout{NetworkError: inner}
	if !IsNetworkError(wrapped) {
		t.Error("NetworkTimeout should satisfy IsNetworkError")
	}
	if !IsTimeoutError(wrapped) {
		t.Error("NetworkTimeout should satisfy IsTimeoutError")
	}
}

func TestErrorLabels(t *testing.T) {
	e := Error{Labels: []string{TransientTransactionErrorLabel}}
	if !e.HasErrorLabel(TransientTransactionErrorLabel) {
		t.Error("label lookup failed")
	}
	if e.HasErrorLabel(UnknownTransactionCommitResultLabel) {
		t.Error("absent label reported present")
	}
}
