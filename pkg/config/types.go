package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config is the process configuration for voxdesk.
type Config struct {
	// Database configures the local store and the static external store.
	Database DatabaseConfig `yaml:"database"`

	// Logging configures the zerolog output.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics configures the Prometheus endpoint served by the agent.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing configures span export.
	Tracing TracingConfig `yaml:"tracing"`

	// SettingsKey seals the external secret persisted in the local store.
	// Never read from the file.
	SettingsKey string `yaml:"-" env:"VOXDESK_SETTINGS_KEY"`

	// Debug switches the store to permissive mode: exhausted retries are
	// logged and degraded instead of returned.
	Debug bool `yaml:"debug" env:"DEBUG"`
}

// DatabaseConfig describes both stores. The local store is always used;
// the external store only when UseExternal is set and nothing was
// persisted by an earlier switch.
type DatabaseConfig struct {
	// Driver is shared by both stores (mysql or sqlite).
	Driver string `yaml:"driver" env:"DB_DRIVER" validate:"oneof=mysql sqlite"`

	// Host, Port, User, Password and Name reach the local store. For
	// sqlite Name is a file path.
	Host     string `yaml:"host" env:"DB_HOST"`
	Port     int    `yaml:"port" env:"DB_PORT" validate:"gte=0,lte=65535"`
	User     string `yaml:"user" env:"DB_USER"`
	Password string `yaml:"password" env:"DB_PASSWORD"`
	Name     string `yaml:"database" env:"DB_DATABASE" validate:"required"`

	// UseExternal enables External on startup.
	UseExternal bool `yaml:"use_external" env:"USE_EXTERNAL_DB"`

	// External is the static external store. EXTERNAL_DB_CONFIG carries
	// it as a JSON object.
	External ExternalDB `yaml:"external" env:"EXTERNAL_DB_CONFIG"`

	// IdentityTable never leaves the local store.
	IdentityTable string `yaml:"identity_table" env:"DB_IDENTITY_TABLE" validate:"required"`

	// ProvisionLocal creates the local schema on startup.
	ProvisionLocal bool `yaml:"provision_local" env:"DB_PROVISION_LOCAL"`

	// ReplicationTimeout bounds one mirror write to the local store.
	ReplicationTimeout time.Duration `yaml:"replication_timeout" env:"DB_REPLICATION_TIMEOUT" validate:"gt=0"`

	Pool  PoolConfig  `yaml:"pool"`
	Retry RetryConfig `yaml:"retry"`
}

// ExternalDB is the external store's connection parameters.
type ExternalDB struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port,omitempty"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
	Database string `yaml:"database" json:"database"`
}

// UnmarshalText decodes the JSON form used by EXTERNAL_DB_CONFIG.
func (e *ExternalDB) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*e = ExternalDB{}
		return nil
	}
	var v ExternalDB
	if err := json.Unmarshal(text, &v); err != nil {
		return fmt.Errorf("invalid external database config: %w", err)
	}
	*e = v
	return nil
}

// IsZero reports whether no parameter is set.
func (e ExternalDB) IsZero() bool {
	return e == ExternalDB{}
}

// PoolConfig bounds each connection pool.
type PoolConfig struct {
	Min     int           `yaml:"min" env:"DB_POOL_MIN" validate:"gte=0"`
	Max     int           `yaml:"max" env:"DB_POOL_MAX" validate:"gte=1,gtefield=Min"`
	Recycle time.Duration `yaml:"recycle" env:"DB_POOL_RECYCLE" validate:"gte=0"`
}

// RetryConfig is the retry policy applied to every store operation.
type RetryConfig struct {
	Attempts       int           `yaml:"attempts" env:"DB_RETRY_ATTEMPTS" validate:"gte=1"`
	BaseDelay      time.Duration `yaml:"base_delay" env:"DB_RETRY_BASE_DELAY" validate:"gte=0"`
	Multiplier     float64       `yaml:"multiplier" env:"DB_RETRY_MULTIPLIER" validate:"gte=1"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" env:"DB_ATTEMPT_TIMEOUT" validate:"gt=0"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" env:"LOG_FORMAT" validate:"oneof=console json"`
	Output string `yaml:"output" env:"LOG_OUTPUT"`
}

// MetricsConfig configures the metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"METRICS_ENABLED"`
	Address string `yaml:"address" env:"METRICS_ADDR" validate:"required_if=Enabled true"`
	Path    string `yaml:"path" env:"METRICS_PATH"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Exporter string `yaml:"exporter" env:"TRACE_EXPORTER" validate:"oneof=none stdout otlp"`
	Endpoint string `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT" validate:"required_if=Exporter otlp"`
}
