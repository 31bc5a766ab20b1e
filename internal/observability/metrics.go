// Package observability — metrics.go
//
// Prometheus metrics for the Golem worker executor.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: golem_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - State labels use the string state name (7 values max, see worker.State).
//   - WorkerId is NOT used as a label (unbounded cardinality).
//   - Per-worker counts are aggregated before recording.

package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for the worker executor.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Oplog ────────────────────────────────────────────────────────────────

	// OplogAppendsTotal counts entries appended to the durable oplog.
	// Labels: kind (invoke, suspend, snapshot, activate_plugin, ...)
	OplogAppendsTotal *prometheus.CounterVec

	// OplogReadsTotal counts Read/Search calls served from the oplog store.
	// Labels: op (read, search)
	OplogReadsTotal *prometheus.CounterVec

	// OplogAppendLatency records BoltDB append transaction latency.
	OplogAppendLatency prometheus.Histogram

	// ─── Worker state machine ────────────────────────────────────────────────

	// WorkerStateTransitionsTotal counts Instance state transitions.
	// Labels: from_state, to_state
	WorkerStateTransitionsTotal *prometheus.CounterVec

	// ActiveWorkers is the current number of live Instance activations on
	// this pod.
	ActiveWorkers prometheus.Gauge

	// InvocationLatency records InvokeAndAwait latency.
	InvocationLatency prometheus.Histogram

	// InvocationsFailedTotal counts invocations that returned an error.
	InvocationsFailedTotal prometheus.Counter

	// ─── Fuel / resource limiting ─────────────────────────────────────────────

	// FuelConsumedTotal counts lifetime fuel units consumed across all
	// workers on this pod.
	FuelConsumedTotal prometheus.Counter

	// FuelExhaustedTotal counts invocations rejected for insufficient fuel.
	FuelExhaustedTotal prometheus.Counter

	// ─── Executor routing ─────────────────────────────────────────────────────

	// RoutingRetriesTotal counts Router.Route retry attempts.
	RoutingRetriesTotal prometheus.Counter

	// RoutingCacheResetsTotal counts routing-cache resets triggered by
	// retry exhaustion (SurfaceResetAsWarning).
	RoutingCacheResetsTotal prometheus.Counter

	// FleetReachablePods is the current count of reachable executor pods
	// as tracked by Reachability.
	FleetReachablePods prometheus.Gauge

	// ─── RPC engine ───────────────────────────────────────────────────────────

	// RPCCallLatency records outbound inter-worker RPC call latency.
	RPCCallLatency prometheus.Histogram

	// RPCCallsFailedTotal counts outbound RPC calls that failed.
	// Labels: reason (timeout, peer_unreachable, circuit_open)
	RPCCallsFailedTotal *prometheus.CounterVec

	// ─── Component registry ──────────────────────────────────────────────────

	// TransformerChainDuration records end-to-end transformer chain latency
	// for a single component Create/Update call.
	TransformerChainDuration prometheus.Histogram

	// ComponentsRegistered is the current number of components tracked by
	// the registry.
	ComponentsRegistered prometheus.Gauge

	// ─── Process ──────────────────────────────────────────────────────────────

	// UptimeSeconds is the number of seconds since the executor started.
	UptimeSeconds prometheus.Gauge

	// startTime records when the executor started (for uptime calculation).
	startTime time.Time
}

// NewMetrics creates and registers all worker-executor Prometheus metrics.
// Returns a *Metrics with all descriptors initialised.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		OplogAppendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "golem",
			Subsystem: "oplog",
			Name:      "appends_total",
			Help:      "Total entries appended to the durable oplog, by kind.",
		}, []string{"kind"}),

		OplogReadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "golem",
			Subsystem: "oplog",
			Name:      "reads_total",
			Help:      "Total oplog read/search calls served, by operation.",
		}, []string{"op"}),

		OplogAppendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "golem",
			Subsystem: "oplog",
			Name:      "append_latency_seconds",
			Help:      "BoltDB append transaction latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		WorkerStateTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "golem",
			Subsystem: "worker",
			Name:      "state_transitions_total",
			Help:      "Total worker state transitions, by from_state and to_state.",
		}, []string{"from_state", "to_state"}),

		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "golem",
			Subsystem: "worker",
			Name:      "active",
			Help:      "Current number of live worker activations on this pod.",
		}),

		InvocationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "golem",
			Subsystem: "worker",
			Name:      "invocation_latency_seconds",
			Help:      "invoke_and_await_worker latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),

		InvocationsFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "golem",
			Subsystem: "worker",
			Name:      "invocations_failed_total",
			Help:      "Total invocations that returned an error.",
		}),

		FuelConsumedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "golem",
			Subsystem: "fuel",
			Name:      "consumed_total",
			Help:      "Lifetime total fuel units consumed across all workers on this pod.",
		}),

		FuelExhaustedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "golem",
			Subsystem: "fuel",
			Name:      "exhausted_total",
			Help:      "Total invocations rejected for insufficient fuel.",
		}),

		RoutingRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "golem",
			Subsystem: "routing",
			Name:      "retries_total",
			Help:      "Total executor-routing retry attempts.",
		}),

		RoutingCacheResetsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "golem",
			Subsystem: "routing",
			Name:      "cache_resets_total",
			Help:      "Total routing-cache resets triggered by retry exhaustion.",
		}),

		FleetReachablePods: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "golem",
			Subsystem: "routing",
			Name:      "fleet_reachable_pods",
			Help:      "Current count of reachable executor pods.",
		}),

		RPCCallLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "golem",
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "Outbound inter-worker RPC call latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		RPCCallsFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "golem",
			Subsystem: "rpc",
			Name:      "calls_failed_total",
			Help:      "Total outbound RPC calls that failed, by reason.",
		}, []string{"reason"}),

		TransformerChainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "golem",
			Subsystem: "registry",
			Name:      "transformer_chain_duration_seconds",
			Help:      "End-to-end transformer chain latency for one component Create/Update call.",
			Buckets:   prometheus.DefBuckets,
		}),

		ComponentsRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "golem",
			Subsystem: "registry",
			Name:      "components_registered",
			Help:      "Current number of components tracked by the registry.",
		}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "golem",
			Subsystem: "executor",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the executor started.",
		}),
	}

	reg.MustRegister(
		m.OplogAppendsTotal,
		m.OplogReadsTotal,
		m.OplogAppendLatency,
		m.WorkerStateTransitionsTotal,
		m.ActiveWorkers,
		m.InvocationLatency,
		m.InvocationsFailedTotal,
		m.FuelConsumedTotal,
		m.FuelExhaustedTotal,
		m.RoutingRetriesTotal,
		m.RoutingCacheResetsTotal,
		m.FleetReachablePods,
		m.RPCCallLatency,
		m.RPCCallsFailedTotal,
		m.TransformerChainDuration,
		m.ComponentsRegistered,
		m.UptimeSeconds,
		// Standard Go runtime metrics.
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given address.
// Blocks until ctx is cancelled or the server fails.
// The server binds to addr (e.g., "127.0.0.1:9091") and serves GET /metrics.
// Returns an error only if the server fails to start or encounters a fatal error.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

// updateUptime periodically updates the UptimeSeconds gauge.
func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
