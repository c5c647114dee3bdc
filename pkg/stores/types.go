package stores

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Target identifies which of the two pools a handle belongs to.
type Target string

const (
	TargetLocal    Target = "local"
	TargetExternal Target = "external"
)

// Supported driver names. Both stores of one process always share a driver.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// ConnectionConfig holds the parameters needed to reach one database.
// For the sqlite driver Database is a file path and the network fields
// are ignored.
type ConnectionConfig struct {
	Driver   string `json:"-" validate:"omitempty,oneof=mysql sqlite"`
	Host     string `json:"host" validate:"required_unless=Driver sqlite"`
	Port     int    `json:"port,omitempty" validate:"gte=0,lte=65535"`
	User     string `json:"user" validate:"required_unless=Driver sqlite"`
	Secret   string `json:"password" validate:"required_unless=Driver sqlite"`
	Database string `json:"database" validate:"required"`
}

var configValidator = validator.New()

// Validate reports a configuration error when a required field is missing.
func (c ConnectionConfig) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return &StoreError{
			Kind:    KindConfiguration,
			Op:      "validate",
			Message: "missing required configuration parameters",
			Err:     err,
		}
	}
	return nil
}

// IsZero reports whether no connection parameter is set.
func (c ConnectionConfig) IsZero() bool {
	return c.Host == "" && c.User == "" && c.Secret == "" && c.Database == ""
}

// Summary returns the parts of the config that are safe to show on a dashboard.
func (c ConnectionConfig) Summary() ConfigSummary {
	return ConfigSummary{Host: c.Host, User: c.User, Database: c.Database}
}

// String never includes the secret.
func (c ConnectionConfig) String() string {
	return fmt.Sprintf("%s://%s@%s/%s", c.Driver, c.User, c.address(), c.Database)
}

func (c ConnectionConfig) address() string {
	if c.Port == 0 || strings.Contains(c.Host, ":") {
		return c.Host
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PoolBounds bounds a connection pool.
type PoolBounds struct {
	MinSize int
	MaxSize int
	Recycle time.Duration
}

// DefaultPoolBounds mirrors the pool sizing the service has always used.
func DefaultPoolBounds() PoolBounds {
	return PoolBounds{MinSize: 1, MaxSize: 10, Recycle: time.Hour}
}

// probeBounds is used by TestConnection: a single throwaway connection.
func probeBounds() PoolBounds {
	return PoolBounds{MinSize: 1, MaxSize: 1, Recycle: time.Minute}
}

// Statement is an immutable SQL text plus its positional parameters.
type Statement struct {
	SQL  string
	Args []any
}

// Row maps column names to values. Byte slices are returned as strings.
type Row map[string]any

// ConfigSummary is the non-secret view of a ConnectionConfig.
type ConfigSummary struct {
	Host     string `json:"host"`
	User     string `json:"user"`
	Database string `json:"database"`
}

// Status is the dashboard view of the store.
type Status struct {
	UsingExternal  bool           `json:"using_external"`
	Connected      bool           `json:"connected"`
	ExternalConfig *ConfigSummary `json:"external_config"`
}

// TestResult is returned by Store.TestConnection.
type TestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
