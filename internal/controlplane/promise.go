package controlplane

import (
	"fmt"
	"sync"

	"github.com/golemcloud/golem/internal/golemerr"
)

// PromiseStore tracks outstanding complete_promise handles: Await blocks
// until some other caller completes the matching promise ID with data (§6
// complete_promise). Instance.BeginAwaitPromise only moves a worker into
// WaitingForPromise; it does not wait on this store.
type PromiseStore struct {
	mu       sync.Mutex
	pending  map[string]chan []byte
	complete map[string][]byte
}

// NewPromiseStore constructs an empty PromiseStore.
func NewPromiseStore() *PromiseStore {
	return &PromiseStore{
		pending:  make(map[string]chan []byte),
		complete: make(map[string][]byte),
	}
}

// Await blocks until promiseID is completed, returning its data. Safe to
// call concurrently with Complete in either order.
func (p *PromiseStore) Await(promiseID string) []byte {
	p.mu.Lock()
	if data, done := p.complete[promiseID]; done {
		p.mu.Unlock()
		return data
	}
	ch, ok := p.pending[promiseID]
	if !ok {
		ch = make(chan []byte, 1)
		p.pending[promiseID] = ch
	}
	p.mu.Unlock()
	return <-ch
}

// Complete implements complete_promise: stores the data and wakes any
// waiter. Completing an already-completed promise overwrites its data,
// matching an idempotent re-delivery of the same completion.
func (p *PromiseStore) Complete(promiseID string, data []byte) error {
	if promiseID == "" {
		return golemerr.New(golemerr.InvalidRequest, "promise_id is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.complete[promiseID] = data
	if ch, ok := p.pending[promiseID]; ok {
		select {
		case ch <- data:
		default:
		}
		delete(p.pending, promiseID)
	}
	return nil
}

func promiseKey(workerID, localID string) string {
	return fmt.Sprintf("%s#%s", workerID, localID)
}
