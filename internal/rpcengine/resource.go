package rpcengine

import (
	"sync"
	"sync/atomic"

	"github.com/golemcloud/golem/internal/golemerr"
	"github.com/golemcloud/golem/internal/ids"
)

// StubPayload is the sum type backing a stub handle (§9 design note):
// exactly one of the three pointer fields is set.
type StubPayload struct {
	Interface *InterfaceStub
	Resource  *ResourceStub
	External  *ExternalStub
}

// InterfaceStub backs a plain RPC connection to a target worker.
type InterfaceStub struct {
	Connection Connection
	SpanID     ids.SpanId
}

// ResourceStub backs a remote resource handle: the durable identity
// (resource-uri, resource-id) obtained from the remote constructor call,
// per the "constructor resource bookkeeping" rule in §4.5.
type ResourceStub struct {
	Connection  Connection
	ResourceURI string
	ResourceID  uint64
	SpanID      ids.SpanId
}

// ExternalStub backs an OpenAPI or gRPC target: the constructor parameters
// captured at stub-creation time (connection config, credentials,
// descriptor set).
type ExternalStub struct {
	ConstructorParams map[string]string
}

// Handle is the guest-visible integer identifying a stub resource.
type Handle uint64

// Arena is the integer-keyed table backing stub handles, so guest code
// never holds a language-level reference to engine-side connection state
// (§9 "arena-style table keyed by an integer handle").
type Arena struct {
	mu      sync.Mutex
	next    atomic.Uint64
	entries map[Handle]StubPayload
}

// NewArena constructs an empty resource arena.
func NewArena() *Arena {
	return &Arena{entries: make(map[Handle]StubPayload)}
}

// Register allocates a fresh handle for payload and stores it.
func (a *Arena) Register(payload StubPayload) Handle {
	h := Handle(a.next.Add(1))
	a.mu.Lock()
	a.entries[h] = payload
	a.mu.Unlock()
	return h
}

// Get returns the payload for a handle.
func (a *Arena) Get(h Handle) (StubPayload, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.entries[h]
	if !ok {
		return StubPayload{}, golemerr.New(golemerr.InvalidRequest, "unknown stub handle")
	}
	return p, nil
}

// Drop removes a handle from the arena. Idempotent: dropping an already
// dropped handle is not an error.
func (a *Arena) Drop(h Handle) {
	a.mu.Lock()
	delete(a.entries, h)
	a.mu.Unlock()
}

// Replace swaps the payload under an existing handle, used by constructor
// resource bookkeeping: the temporary handle used for the constructor RPC
// is replaced in place by the durable (resource-uri, resource-id) handle,
// rather than allocating a second handle and dropping the first.
func (a *Arena) Replace(h Handle, payload StubPayload) {
	a.mu.Lock()
	a.entries[h] = payload
	a.mu.Unlock()
}
