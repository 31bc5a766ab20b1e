// Package config provides configuration loading, validation, and hot-reload
// for the Golem worker executor.
//
// Configuration file: /etc/golem/executor.yaml (default)
// Schema version: 1
//
// Hot-reload:
//   - Executor listens for SIGHUP.
//   - On SIGHUP: re-read and re-validate executor.yaml.
//   - A valid file replaces the executor's in-memory Config. Components
//     already constructed from the old Config (stores, manager, servers,
//     logger) keep their settings; changes reach them only on restart.
//   - If the new config is invalid, the old config remains active and an
//     error is logged. The executor does NOT crash on invalid hot-reload
//     config.
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (fractions in [0,1], capacities >= 1).
//   - Database file paths (oplog, registry) must be absolute.
//   - Invalid config on startup: executor refuses to start (fatal error).
//   - Invalid config on hot-reload: logged, old config retained.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/golemcloud/golem/internal/oplog"
)

// Version, GitCommit, BuildTime are injected by the Makefile via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for a Golem worker executor.
// All fields have defaults; see Defaults() for values.
type Config struct {
	// SchemaVersion must be "1". Future versions will trigger migration.
	SchemaVersion string `yaml:"schema_version"`

	// NodeID is a unique identifier for this executor pod, reported in the
	// startup log. Default: hostname.
	NodeID string `yaml:"node_id"`

	// Executor configures worker-pool concurrency and fuel.
	Executor ExecutorConfig `yaml:"executor"`

	// Storage configures the oplog and registry BoltDB stores.
	Storage StorageConfig `yaml:"storage"`

	// RPC configures the inter-worker gRPC transport.
	RPC RPCConfig `yaml:"rpc"`

	// Routing configures executor-routing retry/failover/fan-out.
	Routing RoutingConfig `yaml:"routing"`

	// Registry configures the component transformer chain.
	Registry RegistryConfig `yaml:"registry"`

	// ControlPlane configures the Worker RPC protocol socket.
	ControlPlane ControlPlaneConfig `yaml:"control_plane"`

	// Observability configures metrics and logging.
	Observability ObservabilityConfig `yaml:"observability"`
}

// ExecutorConfig holds worker-pool and fuel parameters. Validate checks
// them at load, but no component in this module reads them: the manager
// does not cap worker count or invocation time, and sizes each fuel bucket
// from the create_worker arguments.
type ExecutorConfig struct {
	// MaxConcurrentWorkers bounds how many Instance goroutines this pod
	// may run at once. Default: 512.
	MaxConcurrentWorkers int `yaml:"max_concurrent_workers"`

	// FuelCapacity is the default per-worker fuel bucket capacity.
	// Default: 1000000.
	FuelCapacity int64 `yaml:"fuel_capacity"`

	// FuelRefillPeriod is the interval on which a worker's fuel bucket
	// refills to capacity. Default: 1s.
	FuelRefillPeriod time.Duration `yaml:"fuel_refill_period"`

	// InvocationTimeout bounds a single InvokeAndAwait call. Default: 5m.
	InvocationTimeout time.Duration `yaml:"invocation_timeout"`
}

// StorageConfig holds BoltDB parameters for the oplog and component
// registry stores.
type StorageConfig struct {
	// OplogDBPath is the absolute path to the oplog BoltDB file.
	// Default: /var/lib/golem/oplog.db.
	OplogDBPath string `yaml:"oplog_db_path"`

	// RegistryDBPath is the absolute path to the component registry
	// BoltDB file. Default: /var/lib/golem/registry.db.
	RegistryDBPath string `yaml:"registry_db_path"`

	// RetentionDays is checked at load (>= 1); no oplog compaction in this
	// module reads it. Default: 30.
	RetentionDays int `yaml:"retention_days"`
}

// RPCConfig holds the inter-worker gRPC transport parameters.
type RPCConfig struct {
	// ListenAddr is the gRPC listen address for inbound RPC invocations
	// from other workers. Default: 0.0.0.0:9443.
	ListenAddr string `yaml:"listen_addr"`

	// PeerReachabilityThreshold is a fraction checked at load to lie in
	// [0,1]; this module does not pass it to rpcengine.NewPeerHealth.
	// Default: 0.5.
	PeerReachabilityThreshold float64 `yaml:"peer_reachability_threshold"`

	// TLSCertFile is the path to the node's TLS certificate (PEM).
	TLSCertFile string `yaml:"tls_cert_file"`

	// TLSKeyFile is the path to the node's TLS private key (PEM).
	TLSKeyFile string `yaml:"tls_key_file"`

	// TLSCAFile is the path to the CA certificate for peer verification
	// (PEM).
	TLSCAFile string `yaml:"tls_ca_file"`
}

// RoutingConfig holds executor-routing retry, failover and fan-out
// parameters (§4.7). This binary passes only IsolatedBelowReachablePods to
// a component (executorrouting.NewReachability); the retry and fan-out
// fields are validated at load and not passed to a Router or Fleet.
type RoutingConfig struct {
	// MaxAttempts bounds how many times Router.Route retries a failed
	// call before giving up (or resetting, see SurfaceResetAsWarning).
	// Default: 5.
	MaxAttempts int `yaml:"max_attempts"`

	// MinRetryDelay/MaxRetryDelay/RetryMultiplier parameterize the
	// exponential backoff between attempts.
	MinRetryDelay   time.Duration `yaml:"min_retry_delay"`
	MaxRetryDelay   time.Duration `yaml:"max_retry_delay"`
	RetryMultiplier float64       `yaml:"retry_multiplier"`

	// SurfaceResetAsWarning controls what happens when retries are
	// exhausted: true logs a warning and resets the routing cache entry
	// instead of giving up outright. Default: true.
	SurfaceResetAsWarning bool `yaml:"surface_reset_as_warning"`

	// FanOutRatePerSecond bounds fleet-wide broadcast query throughput.
	// Default: 50.
	FanOutRatePerSecond float64 `yaml:"fan_out_rate_per_second"`

	// IsolatedBelowReachablePods is the reachable-pod count below which
	// executorrouting.Reachability reports the fleet as isolated.
	// Default: 1.
	IsolatedBelowReachablePods int `yaml:"isolated_below_reachable_pods"`
}

// RegistryConfig holds component transformer chain parameters.
type RegistryConfig struct {
	// TransformHTTPTimeout bounds a single transformer-chain HTTP call.
	// Default: 30s.
	TransformHTTPTimeout time.Duration `yaml:"transform_http_timeout"`

	// TransformRetry governs exponential-backoff retry of a transformer
	// HTTP stage on transport errors and 5xx responses (§4.5, §6).
	TransformRetry oplog.RetryPolicy `yaml:"transform_retry"`
}

// ControlPlaneConfig holds the Worker RPC protocol socket parameters.
type ControlPlaneConfig struct {
	// Enabled controls whether the control plane socket is active.
	// Default: true.
	Enabled bool `yaml:"enabled"`

	// SocketPath is the Unix domain socket path for the control plane.
	// Permissions: 0600. Default: /run/golem/executor.sock.
	// Mutually exclusive with ListenAddr; SocketPath takes precedence if
	// both are set.
	SocketPath string `yaml:"socket_path"`

	// ListenAddr is a TCP fallback for control planes running off-pod.
	ListenAddr string `yaml:"listen_addr"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	// Default: 127.0.0.1:9091.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	// Default: info.
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	// Default: json.
	LogFormat string `yaml:"log_format"`
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		NodeID:        hostname,
		Executor: ExecutorConfig{
			MaxConcurrentWorkers: 512,
			FuelCapacity:         1_000_000,
			FuelRefillPeriod:     time.Second,
			InvocationTimeout:    5 * time.Minute,
		},
		Storage: StorageConfig{
			OplogDBPath:    DefaultOplogDBPath,
			RegistryDBPath: DefaultRegistryDBPath,
			RetentionDays:  30,
		},
		RPC: RPCConfig{
			ListenAddr:                "0.0.0.0:9443",
			PeerReachabilityThreshold: 0.5,
		},
		Routing: RoutingConfig{
			MaxAttempts:                5,
			MinRetryDelay:              100 * time.Millisecond,
			MaxRetryDelay:              5 * time.Second,
			RetryMultiplier:            2.0,
			SurfaceResetAsWarning:      true,
			FanOutRatePerSecond:        50,
			IsolatedBelowReachablePods: 1,
		},
		Registry: RegistryConfig{
			TransformHTTPTimeout: 30 * time.Second,
			TransformRetry: oplog.RetryPolicy{
				MaxAttempts: 3,
				MinDelay:    200 * time.Millisecond,
				MaxDelay:    5 * time.Second,
				Multiplier:  2.0,
				MaxJitter:   100 * time.Millisecond,
			},
		},
		ControlPlane: ControlPlaneConfig{
			Enabled:    true,
			SocketPath: "/run/golem/executor.sock",
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// DefaultOplogDBPath mirrors the oplog package's expected default location.
const DefaultOplogDBPath = "/var/lib/golem/oplog.db"

// DefaultRegistryDBPath mirrors the registry package's expected default
// location.
const DefaultRegistryDBPath = "/var/lib/golem/registry.db"

// Load reads and validates a config file from the given path.
// Returns the merged config (defaults overridden by file values).
// Returns an error if the file cannot be read, parsed, or validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness.
// Returns a descriptive error listing all violations found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.NodeID == "" {
		errs = append(errs, "node_id must not be empty")
	}
	if cfg.Executor.MaxConcurrentWorkers < 1 {
		errs = append(errs, fmt.Sprintf("executor.max_concurrent_workers must be >= 1, got %d", cfg.Executor.MaxConcurrentWorkers))
	}
	if cfg.Executor.FuelCapacity < 1 {
		errs = append(errs, fmt.Sprintf("executor.fuel_capacity must be >= 1, got %d", cfg.Executor.FuelCapacity))
	}
	if cfg.Executor.FuelRefillPeriod < time.Millisecond {
		errs = append(errs, fmt.Sprintf("executor.fuel_refill_period must be >= 1ms, got %s", cfg.Executor.FuelRefillPeriod))
	}
	if cfg.Storage.OplogDBPath == "" {
		errs = append(errs, "storage.oplog_db_path must not be empty")
	} else if !filepath.IsAbs(cfg.Storage.OplogDBPath) {
		errs = append(errs, fmt.Sprintf("storage.oplog_db_path must be absolute, got %q", cfg.Storage.OplogDBPath))
	}
	if cfg.Storage.RegistryDBPath == "" {
		errs = append(errs, "storage.registry_db_path must not be empty")
	} else if !filepath.IsAbs(cfg.Storage.RegistryDBPath) {
		errs = append(errs, fmt.Sprintf("storage.registry_db_path must be absolute, got %q", cfg.Storage.RegistryDBPath))
	}
	if cfg.Storage.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("storage.retention_days must be >= 1, got %d", cfg.Storage.RetentionDays))
	}
	if cfg.RPC.PeerReachabilityThreshold < 0.0 || cfg.RPC.PeerReachabilityThreshold > 1.0 {
		errs = append(errs, fmt.Sprintf("rpc.peer_reachability_threshold must be in [0.0, 1.0], got %f", cfg.RPC.PeerReachabilityThreshold))
	}
	if cfg.RPC.ListenAddr != "" {
		if cfg.RPC.TLSCertFile == "" || cfg.RPC.TLSKeyFile == "" || cfg.RPC.TLSCAFile == "" {
			errs = append(errs, "rpc.tls_cert_file, tls_key_file, and tls_ca_file are required when rpc.listen_addr is set")
		}
	}
	if cfg.Routing.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("routing.max_attempts must be >= 1, got %d", cfg.Routing.MaxAttempts))
	}
	if cfg.Routing.MinRetryDelay <= 0 || cfg.Routing.MaxRetryDelay <= 0 || cfg.Routing.MinRetryDelay > cfg.Routing.MaxRetryDelay {
		errs = append(errs, "routing.min_retry_delay must be > 0 and <= routing.max_retry_delay")
	}
	if cfg.Routing.RetryMultiplier < 1.0 {
		errs = append(errs, fmt.Sprintf("routing.retry_multiplier must be >= 1.0, got %f", cfg.Routing.RetryMultiplier))
	}
	if cfg.Routing.FanOutRatePerSecond <= 0 {
		errs = append(errs, fmt.Sprintf("routing.fan_out_rate_per_second must be > 0, got %f", cfg.Routing.FanOutRatePerSecond))
	}
	if cfg.Routing.IsolatedBelowReachablePods < 1 {
		errs = append(errs, fmt.Sprintf("routing.isolated_below_reachable_pods must be >= 1, got %d", cfg.Routing.IsolatedBelowReachablePods))
	}
	if cfg.Registry.TransformHTTPTimeout < time.Second {
		errs = append(errs, fmt.Sprintf("registry.transform_http_timeout must be >= 1s, got %s", cfg.Registry.TransformHTTPTimeout))
	}
	if cfg.Registry.TransformRetry.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("registry.transform_retry.max_attempts must be >= 1, got %d", cfg.Registry.TransformRetry.MaxAttempts))
	}
	if cfg.Registry.TransformRetry.MinDelay <= 0 || cfg.Registry.TransformRetry.MaxDelay <= 0 || cfg.Registry.TransformRetry.MinDelay > cfg.Registry.TransformRetry.MaxDelay {
		errs = append(errs, "registry.transform_retry.min_delay must be > 0 and <= registry.transform_retry.max_delay")
	}
	if cfg.Registry.TransformRetry.Multiplier < 1.0 {
		errs = append(errs, fmt.Sprintf("registry.transform_retry.multiplier must be >= 1.0, got %f", cfg.Registry.TransformRetry.Multiplier))
	}
	if cfg.ControlPlane.Enabled && cfg.ControlPlane.SocketPath == "" && cfg.ControlPlane.ListenAddr == "" {
		errs = append(errs, "control_plane.socket_path or control_plane.listen_addr is required when control_plane.enabled=true")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s",
			joinStrings(errs, "\n  - "))
	}
	return nil
}

// joinStrings joins a slice of strings with a separator.
func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
