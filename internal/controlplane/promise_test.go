package controlplane

import (
	"testing"
	"time"
)

func TestPromiseStore_AwaitBlocksUntilComplete(t *testing.T) {
	p := NewPromiseStore()
	done := make(chan []byte, 1)
	go func() {
		done <- p.Await("p1")
	}()

	select {
	case <-done:
		t.Fatal("Await returned before Complete was called")
	case <-time.After(20 * time.Millisecond):
	}

	if err := p.Complete("p1", []byte("result")); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	select {
	case data := <-done:
		if string(data) != "result" {
			t.Fatalf("Await = %q, want %q", data, "result")
		}
	case <-time.After(time.Second):
		t.Fatal("Await did not unblock after Complete")
	}
}

func TestPromiseStore_CompleteBeforeAwaitStillResolves(t *testing.T) {
	p := NewPromiseStore()
	if err := p.Complete("p2", []byte("early")); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if data := p.Await("p2"); string(data) != "early" {
		t.Fatalf("Await = %q, want %q", data, "early")
	}
}

func TestPromiseStore_CompleteRejectsEmptyID(t *testing.T) {
	p := NewPromiseStore()
	if err := p.Complete("", nil); err == nil {
		t.Fatal("expected error for empty promise id")
	}
}
