package observability

import (
	"context"
	"testing"
	"time"
)

func TestNewMetrics_RegistersWithoutPanic(t *testing.T) {
	m := NewMetrics()
	if m.registry == nil {
		t.Fatal("expected a non-nil registry")
	}
}

func TestServeMetrics_StopsOnContextCancel(t *testing.T) {
	m := NewMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- m.ServeMetrics(ctx, "127.0.0.1:0") }()

	// ServeMetrics binds its own listener on a free port, so no request is
	// made here: the test checks that it does not return an error early and
	// that it returns once ctx is canceled.
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("ServeMetrics returned early: %v", err)
		}
	case <-time.After(50 * time.Millisecond):
	}
	cancel()

	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatal("ServeMetrics did not shut down after context cancellation")
	}
}

func TestMetrics_CountersIncrementWithoutPanic(t *testing.T) {
	m := NewMetrics()
	m.OplogAppendsTotal.WithLabelValues("invoke").Inc()
	m.WorkerStateTransitionsTotal.WithLabelValues("idle", "running").Inc()
	m.ActiveWorkers.Set(3)
	m.InvocationLatency.Observe(0.01)
	m.RPCCallsFailedTotal.WithLabelValues("timeout").Inc()
}
