package executorrouting

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"go.uber.org/zap"
)

// FleetCaller places a single fan-out query against one executor pod,
// returning that pod's partial result set (e.g. its locally running
// workers for a get_running_workers_metadata-style query).
type FleetCaller interface {
	CallPod(ctx context.Context, pod string) ([]string, error)
}

// Fleet broadcasts a query across every known executor pod and flattens the
// results, throttled to avoid saturating the executor fleet with a single
// fan-out query (§4.7 "fan-out").
type Fleet struct {
	caller  FleetCaller
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewFleet constructs a Fleet broadcaster rate-limited per cfg.FanOutRatePerSecond.
func NewFleet(cfg Config, caller FleetCaller, log *zap.Logger) *Fleet {
	limit := cfg.FanOutRatePerSecond
	if limit <= 0 {
		limit = 50
	}
	return &Fleet{
		caller:  caller,
		limiter: rate.NewLimiter(rate.Limit(limit), 1),
		log:     log,
	}
}

// Broadcast calls every pod in pods and flattens their results. A pod that
// errors is logged and skipped rather than failing the whole query, since a
// single unreachable pod should not hide results from the rest of the
// fleet.
func (f *Fleet) Broadcast(ctx context.Context, pods []string) ([]string, error) {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		merged []string
	)

	for _, pod := range pods {
		pod := pod
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := f.caller.CallPod(ctx, pod)
			if err != nil {
				f.log.Warn("fan-out call failed", zap.String("pod", pod), zap.Error(err))
				return
			}
			mu.Lock()
			merged = append(merged, results...)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return merged, nil
}
