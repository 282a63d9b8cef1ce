// Package config loads process configuration with viper: environment
// variables layered over an optional YAML file, with validation at load
// time so a misconfigured process fails fast at startup instead of
// misbehaving once runs are in flight.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"

	"github.com/mhyatt000/flowcore/engine"
	"github.com/mhyatt000/flowcore/internal/logging"
)

// Config is the full process configuration: the engine's own tunables,
// storage connection info, and ambient logging.
type Config struct {
	Engine  engine.Config
	Storage StorageConfig
	Logging logging.Config
}

// StorageConfig selects and parameterizes the StoragePort backend.
type StorageConfig struct {
	Driver string // "memory" | "sqlite" | "mysql"
	DSN    string
}

// Load reads configuration from an optional YAML file at path (skipped
// if empty or missing) with FLOWCORE_-prefixed environment variables
// taking precedence, and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("flowcore")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	cfg := Config{
		Engine: engine.Config{
			MaxParallelRuns:           v.GetInt("engine.max_parallel_runs"),
			LeaseTTLMs:                v.GetInt64("engine.lease_ttl_ms"),
			HeartbeatIntervalMs:       v.GetInt64("engine.heartbeat_interval_ms"),
			ReclaimIntervalMs:         v.GetInt64("engine.reclaim_interval_ms"),
			PollIntervalMs:            v.GetInt64("engine.poll_interval_ms"),
			DefaultWhileMaxIterations: v.GetInt("engine.default_while_max_iterations"),
			MaxControlStackDepth:      v.GetInt("engine.max_control_stack_depth"),
			MaxAttempts:               v.GetInt("engine.max_attempts"),
		},
		Storage: StorageConfig{
			Driver: v.GetString("storage.driver"),
			DSN:    v.GetString("storage.dsn"),
		},
		Logging: logging.Config{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := engine.DefaultConfig()
	v.SetDefault("engine.max_parallel_runs", d.MaxParallelRuns)
	v.SetDefault("engine.lease_ttl_ms", d.LeaseTTLMs)
	v.SetDefault("engine.heartbeat_interval_ms", d.HeartbeatIntervalMs)
	v.SetDefault("engine.reclaim_interval_ms", d.ReclaimIntervalMs)
	v.SetDefault("engine.poll_interval_ms", d.PollIntervalMs)
	v.SetDefault("engine.default_while_max_iterations", d.DefaultWhileMaxIterations)
	v.SetDefault("engine.max_control_stack_depth", d.MaxControlStackDepth)
	v.SetDefault("engine.max_attempts", d.MaxAttempts)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks the invariants a running engine depends on: positive
// capacities, and a heartbeat strictly more frequent than the lease it
// renews (otherwise a healthy worker could still lose its lease between
// heartbeats).
func (c Config) Validate() error {
	if c.Engine.MaxParallelRuns <= 0 {
		return fmt.Errorf("engine.max_parallel_runs must be positive, got %d", c.Engine.MaxParallelRuns)
	}
	if c.Engine.LeaseTTLMs <= 0 {
		return fmt.Errorf("engine.lease_ttl_ms must be positive, got %d", c.Engine.LeaseTTLMs)
	}
	if c.Engine.HeartbeatIntervalMs <= 0 {
		return fmt.Errorf("engine.heartbeat_interval_ms must be positive, got %d", c.Engine.HeartbeatIntervalMs)
	}
	if c.Engine.HeartbeatIntervalMs >= c.Engine.LeaseTTLMs {
		return fmt.Errorf("engine.heartbeat_interval_ms (%d) must be less than engine.lease_ttl_ms (%d)", c.Engine.HeartbeatIntervalMs, c.Engine.LeaseTTLMs)
	}
	switch c.Storage.Driver {
	case "memory", "sqlite", "mysql":
	default:
		return fmt.Errorf("storage.driver must be one of memory|sqlite|mysql, got %q", c.Storage.Driver)
	}
	if c.Storage.Driver != "memory" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for driver %q", c.Storage.Driver)
	}
	return nil
}
