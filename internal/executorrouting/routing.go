// Package executorrouting implements §4.7: a cached routing table from
// (ComponentId, worker-name) to executor pod, failover/retry with
// exponential backoff, and fan-out broadcast across the executor fleet.
package executorrouting

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/golemcloud/golem/internal/golemerr"
	"github.com/golemcloud/golem/internal/ids"
)

// RetryPolicy is kept as a configuration struct per the §9 design note
// rather than hard-coded numerics.
type RetryPolicy struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	MaxJitter   time.Duration
}

// DefaultRetryPolicy mirrors typical worker_executor_retries defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		MinDelay:    100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		MaxJitter:   250 * time.Millisecond,
	}
}

// DelayFor returns the backoff delay before the given retry attempt
// (0-indexed), capped at MaxDelay.
func (p RetryPolicy) DelayFor(attempt int) time.Duration {
	d := float64(p.MinDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	if time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Config holds the tunables for a Router.
type Config struct {
	Retry RetryPolicy

	// SurfaceResetAsWarning governs what happens when retries are exhausted:
	// the teacher's executor client resets its retry state and keeps going
	// rather than giving up, a surprising-by-default behavior this engine
	// keeps but makes explicit (resolved Open Question, spec.md §9). When
	// true (the default) exhaustion is logged as a warning and the caller's
	// route cache entry is invalidated for another attempt; when false the
	// caller receives the last error instead.
	SurfaceResetAsWarning bool

	// FanOutRatePerSecond bounds how many executor calls a single fan-out
	// query issues per second.
	FanOutRatePerSecond float64
}

// DefaultConfig returns the engine's default routing configuration.
func DefaultConfig() Config {
	return Config{
		Retry:                 DefaultRetryPolicy(),
		SurfaceResetAsWarning: true,
		FanOutRatePerSecond:   50,
	}
}

// routeKey identifies one worker's routing table entry.
type routeKey struct {
	component ids.ComponentId
	worker    string
}

// Resolver discovers which executor pod currently owns a worker; it is
// consulted on a cache miss or after an invalidation.
type Resolver interface {
	Resolve(ctx context.Context, componentID ids.ComponentId, workerName string) (pod string, err error)
}

// Caller places one call against a resolved executor pod. A gRPC NotFound
// maps to golemerr.WorkerNotFound by the Caller implementation so Route can
// fail fast instead of retrying (§4.7).
type Caller interface {
	Call(ctx context.Context, pod string, componentID ids.ComponentId, workerName string) error
}

// Router caches the routing table and drives retry/failover per call.
type Router struct {
	cfg      Config
	resolver Resolver
	caller   Caller
	health   *Reachability
	log      *zap.Logger

	mu    sync.RWMutex
	cache map[routeKey]string
}

// New constructs a Router.
func New(cfg Config, resolver Resolver, caller Caller, health *Reachability, log *zap.Logger) *Router {
	return &Router{
		cfg:      cfg,
		resolver: resolver,
		caller:   caller,
		health:   health,
		log:      log,
		cache:    make(map[routeKey]string),
	}
}

// Route resolves (or reuses a cached resolution for) the worker's executor
// pod and places the call, retrying with exponential backoff on transient
// failure and invalidating the cache entry after each failed attempt.
func (r *Router) Route(ctx context.Context, componentID ids.ComponentId, workerName string) error {
	key := routeKey{component: componentID, worker: workerName}

	var lastErr error
	for attempt := 0; attempt < r.cfg.Retry.MaxAttempts; attempt++ {
		pod, err := r.resolvePod(ctx, key)
		if err != nil {
			return err
		}

		err = r.caller.Call(ctx, pod, componentID, workerName)
		if err == nil {
			if r.health != nil {
				r.health.ReportSuccess(pod)
			}
			return nil
		}
		lastErr = err

		if code, ok := golemerr.CodeOf(err); ok && code == golemerr.WorkerNotFound {
			// Non-retryable per §4.7: fail fast rather than retry a
			// worker that does not exist anywhere in the fleet.
			return err
		}

		r.invalidate(key)
		if r.health != nil {
			r.health.ReportFailure(pod)
		}

		if attempt < r.cfg.Retry.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.Retry.DelayFor(attempt)):
			}
		}
	}

	// Retries exhausted: the teacher's executor client resets retry state
	// and keeps going rather than giving up outright (§9 Open Question).
	if r.cfg.SurfaceResetAsWarning {
		r.log.Warn("executor routing retries exhausted, resetting retry state",
			zap.String("worker", workerName),
			zap.Int("max_attempts", r.cfg.Retry.MaxAttempts),
			zap.Error(lastErr))
		r.invalidate(key)
		return nil
	}
	return lastErr
}

func (r *Router) resolvePod(ctx context.Context, key routeKey) (string, error) {
	r.mu.RLock()
	pod, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return pod, nil
	}

	pod, err := r.resolver.Resolve(ctx, key.component, key.worker)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.cache[key] = pod
	r.mu.Unlock()
	return pod, nil
}

func (r *Router) invalidate(key routeKey) {
	r.mu.Lock()
	delete(r.cache, key)
	r.mu.Unlock()
}
