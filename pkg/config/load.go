package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/voxdesk/voxdesk/pkg/stores"
	"github.com/voxdesk/voxdesk/pkg/telemetry"
)

var validate = validator.New()

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:             stores.DriverMySQL,
			Host:               "localhost",
			Port:               3306,
			IdentityTable:      "users",
			ProvisionLocal:     true,
			ReplicationTimeout: 30 * time.Second,
			Pool: PoolConfig{
				Min:     1,
				Max:     10,
				Recycle: time.Hour,
			},
			Retry: RetryConfig{
				Attempts:       5,
				BaseDelay:      time.Second,
				Multiplier:     2,
				AttemptTimeout: 10 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9090",
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Exporter: "none",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the external store settings.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Database.UseExternal && c.Database.External.IsZero() {
		return errors.New("invalid configuration: use_external is set but no external database is configured")
	}
	return nil
}

// Strict reports whether exhausted retries are returned to callers.
func (c *Config) Strict() bool {
	return !c.Debug
}

// LocalConnection returns the local store's connection parameters.
func (c *Config) LocalConnection() stores.ConnectionConfig {
	db := c.Database
	return stores.ConnectionConfig{
		Driver:   db.Driver,
		Host:     db.Host,
		Port:     db.Port,
		User:     db.User,
		Secret:   db.Password,
		Database: db.Name,
	}
}

// ExternalConnection returns the static external store's parameters, or
// nil when none are configured.
func (c *Config) ExternalConnection() *stores.ConnectionConfig {
	ext := c.Database.External
	if ext.IsZero() {
		return nil
	}
	port := ext.Port
	if port == 0 && c.Database.Driver == stores.DriverMySQL {
		port = 3306
	}
	return &stores.ConnectionConfig{
		Driver:   c.Database.Driver,
		Host:     ext.Host,
		Port:     port,
		User:     ext.User,
		Secret:   ext.Password,
		Database: ext.Database,
	}
}

// StoreConfig converts the configuration for stores.New.
func (c *Config) StoreConfig() stores.Config {
	db := c.Database
	sc := stores.Config{
		Local:       c.LocalConnection(),
		UseExternal: db.UseExternal,
		Pool: stores.PoolBounds{
			MinSize: db.Pool.Min,
			MaxSize: db.Pool.Max,
			Recycle: db.Pool.Recycle,
		},
		Retry: stores.RetryPolicy{
			MaxAttempts:    db.Retry.Attempts,
			BaseDelay:      db.Retry.BaseDelay,
			Multiplier:     db.Retry.Multiplier,
			AttemptTimeout: db.Retry.AttemptTimeout,
		},
		Strict:             c.Strict(),
		IdentityTable:      db.IdentityTable,
		ProvisionLocal:     db.ProvisionLocal,
		PersistSettings:    true,
		ReplicationTimeout: db.ReplicationTimeout,
	}
	if ext := c.ExternalConnection(); ext != nil {
		sc.External = *ext
	}
	return sc
}

// TelemetryConfig converts the configuration for telemetry.NewTelemetry.
func (c *Config) TelemetryConfig(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version
	tc.Logging.Level = c.Logging.Level
	tc.Logging.Format = c.Logging.Format
	tc.Logging.Output = c.Logging.Output
	if c.Debug {
		tc.Environment = "development"
		tc.Logging.EnableCaller = true
	} else {
		tc.Environment = "production"
	}

	tc.Metrics.Enabled = c.Metrics.Enabled
	tc.Metrics.ListenAddress = c.Metrics.Address
	if c.Metrics.Path != "" {
		tc.Metrics.Path = c.Metrics.Path
	}

	tc.Tracing.Enabled = c.Tracing.Exporter != "none"
	tc.Tracing.Exporter = c.Tracing.Exporter
	tc.Tracing.Endpoint = c.Tracing.Endpoint
	return tc
}
