package rpcengine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/golemcloud/golem/internal/durablefn"
	"github.com/golemcloud/golem/internal/ids"
	"github.com/golemcloud/golem/internal/oplog"
)

// Connection is a transport-agnostic handle to a target worker or external
// endpoint: the durable RPC target a stub was constructed against.
type Connection interface {
	Invoke(ctx context.Context, workerID ids.WorkerId, function string, request []byte) ([]byte, error)
}

// SuspendResumer is the subset of worker.Instance a blocking RPC call
// needs: suspend the caller while the remote call is outstanding, and wake
// it once the response arrives (§4.5 "Suspension").
type SuspendResumer interface {
	Suspend() error
	Resume(force bool) error
}

// FutureResult backs `future-invoke-result`: an async call's eventual
// outcome, polled via Subscribe/Get (§4.5).
type FutureResult struct {
	done     chan struct{}
	once     sync.Once
	response []byte
	err      error
}

func newFuture() *FutureResult { return &FutureResult{done: make(chan struct{})} }

func (f *FutureResult) resolve(response []byte, err error) {
	f.once.Do(func() {
		f.response = response
		f.err = err
		close(f.done)
	})
}

// Subscribe returns a channel closed once the result is available.
func (f *FutureResult) Subscribe() <-chan struct{} { return f.done }

// Get blocks until resolved and returns the outcome.
func (f *FutureResult) Get() ([]byte, error) {
	<-f.done
	return f.response, f.err
}

// CancellationToken holds the target worker and the idempotency key that
// InvokeScheduled generated for a scheduled invocation (§4.5).
type CancellationToken struct {
	WorkerID ids.WorkerId
	Key      ids.IdempotencyKey
}

// Canceler cancels a pending invocation by idempotency key; satisfied by
// worker.Instance.
type Canceler interface {
	CancelPendingInvocation(key ids.IdempotencyKey) (bool, error)
}

// Engine mediates all stub-generated RPC calls for one worker activation,
// logging their outcome through the durable-function dispatcher so replay
// observes the same responses without reissuing the call.
type Engine struct {
	dispatcher *durablefn.Dispatcher
	arena      *Arena
	logger     *zap.Logger
}

// New constructs an Engine bound to a worker's dispatcher.
func New(dispatcher *durablefn.Dispatcher, logger *zap.Logger) *Engine {
	return &Engine{dispatcher: dispatcher, arena: NewArena(), logger: logger}
}

// Arena exposes the stub resource table for constructor/drop bookkeeping.
func (e *Engine) Arena() *Arena { return e.arena }

// InvokeBlocking implements `[method]X.m(self, ...)` and its explicit
// `blocking-m` variant: suspends the caller, performs the call, resumes.
func (e *Engine) InvokeBlocking(s SuspendResumer, conn Connection, workerID ids.WorkerId, function string, request []byte) ([]byte, error) {
	if s != nil {
		if err := s.Suspend(); err != nil {
			return nil, err
		}
	}
	response, err := e.dispatcher.Invoke(function, oplog.ClassWriteRemote, request, func() ([]byte, error) {
		return conn.Invoke(context.Background(), workerID, function, request)
	})
	if s != nil {
		if resumeErr := s.Resume(false); resumeErr != nil {
			e.logger.Warn("failed to resume worker after blocking RPC", zap.Error(resumeErr))
		}
	}
	return response, err
}

// InvokeAsync implements `[method]X.m(self, ...) -> future-invoke-result`:
// the call runs in the background and the caller polls the returned
// FutureResult rather than suspending immediately.
func (e *Engine) InvokeAsync(conn Connection, workerID ids.WorkerId, function string, request []byte) *FutureResult {
	future := newFuture()
	go func() {
		response, err := e.dispatcher.Invoke(function, oplog.ClassWriteRemote, request, func() ([]byte, error) {
			return conn.Invoke(context.Background(), workerID, function, request)
		})
		future.resolve(response, err)
	}()
	return future
}

// InvokeFireAndForget implements `[method]X.m(self, ...)` with no declared
// result: the call is logged as WriteRemoteBatched so a crash before the
// background goroutine completes does not replay it twice.
func (e *Engine) InvokeFireAndForget(conn Connection, workerID ids.WorkerId, function string, request []byte) {
	go func() {
		if _, err := e.dispatcher.Invoke(function, oplog.ClassWriteRemoteBatched, request, func() ([]byte, error) {
			return conn.Invoke(context.Background(), workerID, function, request)
		}); err != nil {
			e.logger.Warn("fire-and-forget RPC failed", zap.String("function", function), zap.Error(err))
		}
	}()
}

// Scheduler defers invocations to a future time; satisfied by a
// controlplane-level scheduler or a simple timer-backed implementation.
type Scheduler interface {
	Schedule(at time.Time, fn func())
}

// InvokeScheduled implements `[method]X.schedule-m(self, ..., datetime)`:
// it hands the call to scheduler and returns a CancellationToken with a
// fresh idempotency key. The key is not sent with the call and canceler is
// not used, so the token does not stop the scheduled call from running.
func (e *Engine) InvokeScheduled(scheduler Scheduler, canceler Canceler, conn Connection, at time.Time, workerID ids.WorkerId, function string, request []byte) CancellationToken {
	key := ids.NewIdempotencyKey()
	token := CancellationToken{WorkerID: workerID, Key: key}
	scheduler.Schedule(at, func() {
		if _, err := e.dispatcher.Invoke(function, oplog.ClassWriteRemoteBatched, request, func() ([]byte, error) {
			return conn.Invoke(context.Background(), workerID, function, request)
		}); err != nil {
			e.logger.Warn("scheduled RPC failed", zap.String("function", function), zap.Error(err))
		}
	})
	return token
}
