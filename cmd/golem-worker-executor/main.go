// Package main — cmd/golem-worker-executor/main.go
//
// Golem worker executor entrypoint.
//
// Startup sequence:
//  1. Load and validate config from /etc/golem/executor.yaml.
//  2. Initialise structured logger (zap, JSON format).
//  3. Open the oplog BoltDB store.
//  4. Open the component registry (HTTP transformer chain, circuit-broken
//     per plugin URL).
//  5. Construct the worker manager (§6 Worker RPC protocol backing store).
//  6. Start the Prometheus metrics server (loopback only).
//  7. Start the executor-routing reachability tracker.
//  8. Start the inter-worker RPC transport (gRPC, mTLS) if rpc.listen_addr
//     is configured.
//  9. Start the control-plane Worker RPC protocol server (Unix socket or
//     TCP).
// 10. Register SIGHUP handler for config hot-reload.
// 11. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel root context (propagates to all goroutines).
//  2. Stop accepting new control-plane and RPC transport connections.
//  3. Close the oplog store and registry.
//  4. Flush logger.
//  5. Exit 0.
//
// On config validation failure: exit 1 immediately.
// On oplog/registry open failure: exit 1 immediately.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/golemcloud/golem/internal/config"
	"github.com/golemcloud/golem/internal/controlplane"
	"github.com/golemcloud/golem/internal/executorrouting"
	"github.com/golemcloud/golem/internal/golemerr"
	"github.com/golemcloud/golem/internal/ids"
	"github.com/golemcloud/golem/internal/observability"
	"github.com/golemcloud/golem/internal/oplog"
	"github.com/golemcloud/golem/internal/registry"
	"github.com/golemcloud/golem/internal/rpcengine/transport"
)

func main() {
	// ── Flags ─────────────────────────────────────────────────────────────────
	configPath := flag.String("config", "/etc/golem/executor.yaml", "Path to executor.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("golem-worker-executor %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	// ── Step 1: Load config ───────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 2: Initialise logger ─────────────────────────────────────────────
	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("golem-worker-executor starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("node_id", cfg.NodeID),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 3: Open the oplog store ──────────────────────────────────────────
	store, err := oplog.Open(cfg.Storage.OplogDBPath)
	if err != nil {
		log.Fatal("oplog store open failed", zap.Error(err),
			zap.String("path", cfg.Storage.OplogDBPath))
	}
	defer store.Close() //nolint:errcheck
	log.Info("oplog store opened", zap.String("path", cfg.Storage.OplogDBPath))

	// ── Step 4: Open the component registry ───────────────────────────────────
	transformer := registry.NewHTTPTransformer(cfg.Registry.TransformHTTPTimeout, cfg.Registry.TransformRetry)
	reg, err := registry.Open(cfg.Storage.RegistryDBPath, transformer, log)
	if err != nil {
		log.Fatal("registry open failed", zap.Error(err),
			zap.String("path", cfg.Storage.RegistryDBPath))
	}
	defer reg.Close() //nolint:errcheck
	log.Info("component registry opened", zap.String("path", cfg.Storage.RegistryDBPath))

	// ── Step 5: Worker manager ─────────────────────────────────────────────────
	manager := controlplane.NewManager(store, reg, log)
	promises := controlplane.NewPromiseStore()
	executor := &unwiredExecutor{}
	dispatcher := controlplane.NewDispatcher(manager, executor, promises)

	// ── Step 6: Prometheus metrics ─────────────────────────────────────────────
	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	// ── Step 7: Executor-routing reachability ──────────────────────────────────
	// This pod's own view of fleet reachability, exported via the
	// routing_fleet_reachable_pods gauge. The routing.Router itself (cached
	// pod lookup, retry/backoff, fan-out) is constructed by the
	// shard-manager-facing proxy layer that holds the fleet's Resolver/Caller
	// implementations — out of scope for a single executor pod's binary.
	reachability := executorrouting.NewReachability(cfg.Routing.IsolatedBelowReachablePods, 2*time.Minute)
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.FleetReachablePods.Set(float64(reachability.ReachableCount()))
			}
		}
	}()

	// ── Step 8: Inter-worker RPC transport (gRPC, mTLS) ────────────────────────
	if cfg.RPC.ListenAddr != "" {
		go func() {
			err := transport.ListenAndServe(
				ctx,
				cfg.RPC.ListenAddr,
				cfg.RPC.TLSCertFile,
				cfg.RPC.TLSKeyFile,
				cfg.RPC.TLSCAFile,
				&managerDispatcher{manager: manager, executor: executor},
				log,
			)
			if err != nil {
				log.Error("rpc transport server error", zap.Error(err))
			}
		}()
		log.Info("rpc transport listening", zap.String("addr", cfg.RPC.ListenAddr))
	} else {
		log.Info("rpc transport disabled (no rpc.listen_addr configured)")
	}

	// ── Step 9: Control-plane Worker RPC protocol server ───────────────────────
	if cfg.ControlPlane.Enabled {
		srv := controlplane.NewServer(dispatcher, log)
		go func() {
			var err error
			if cfg.ControlPlane.SocketPath != "" {
				err = srv.ListenAndServeUnix(ctx, cfg.ControlPlane.SocketPath)
			} else {
				err = srv.ListenAndServeTCP(ctx, cfg.ControlPlane.ListenAddr)
			}
			if err != nil {
				log.Error("control plane server error", zap.Error(err))
			}
		}()
		log.Info("control plane listening",
			zap.String("socket_path", cfg.ControlPlane.SocketPath),
			zap.String("listen_addr", cfg.ControlPlane.ListenAddr))
	} else {
		log.Info("control plane disabled")
	}

	// ── Step 10: SIGHUP hot-reload ─────────────────────────────────────────────
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config...")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			// The new config replaces cfg. The store, registry, manager and
			// servers above were built from the startup config and do not
			// re-read cfg, so their settings change only on restart.
			log.Info("config hot-reload successful",
				zap.Int64("new_fuel_capacity", newCfg.Executor.FuelCapacity),
				zap.Int("new_routing_max_attempts", newCfg.Routing.MaxAttempts),
				zap.Bool("new_surface_reset_as_warning", newCfg.Routing.SurfaceResetAsWarning))
			cfg = newCfg
		}
	}()

	// ── Step 11: Wait for shutdown signal ──────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	time.Sleep(100 * time.Millisecond) // let goroutines observe ctx.Done()

	log.Info("golem-worker-executor shutdown complete")
}

// unwiredExecutor is the default controlplane.Executor until a deployment
// wires in a real wasm runtime. Dynamic linking into guest component source
// is out of scope for this engine core; invoke_worker/invoke_and_await_worker
// calls fail loudly rather than silently no-op.
type unwiredExecutor struct{}

func (unwiredExecutor) Execute(_ ids.WorkerId, _ string, _ []byte) ([]byte, error) {
	return nil, golemerr.New(golemerr.InvalidRequest, "no wasm executor wired into this worker executor")
}

// managerDispatcher adapts Manager+Executor to transport.LocalDispatcher so
// the gRPC/HTTP inter-worker transport can route an inbound RPC call into
// this pod's worker manager the same way the control plane does.
type managerDispatcher struct {
	manager  *controlplane.Manager
	executor controlplane.Executor
}

func (d *managerDispatcher) Dispatch(_ context.Context, workerID ids.WorkerId, function string, request []byte) ([]byte, error) {
	callFn := func(req []byte) ([]byte, error) { return d.executor.Execute(workerID, function, req) }
	return d.manager.InvokeAndAwaitWorker(workerID, function, ids.IdempotencyKey(ids.NewComponentId().String()), "", request, callFn)
}

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
