package golemerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf_WrappedChain(t *testing.T) {
	base := New(WorkerNotFound, "worker w1 not found")
	wrapped := fmt.Errorf("get_worker_metadata: %w", base)

	code, ok := CodeOf(wrapped)
	if !ok {
		t.Fatalf("expected a Code to be found in the wrapped chain")
	}
	if code != WorkerNotFound {
		t.Errorf("got code %q, want %q", code, WorkerNotFound)
	}
}

func TestCodeOf_NoTaggedError(t *testing.T) {
	if _, ok := CodeOf(errors.New("plain error")); ok {
		t.Error("expected no Code for a plain error")
	}
}

func TestWrap_Unwrap(t *testing.T) {
	cause := errors.New("bbolt: tx closed")
	err := Wrap(StorageError, "append oplog entry", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}
