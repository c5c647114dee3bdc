// Package config loads the voxdesk process configuration.
//
// # Sources
//
// Configuration is assembled in three layers, each overriding the last:
//
//  1. Built-in defaults (Default)
//  2. An optional YAML file
//  3. Environment variables
//
// The environment names match the service's historical deployment:
//
//	DB_DRIVER, DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_DATABASE
//	USE_EXTERNAL_DB, EXTERNAL_DB_CONFIG ({"host","user","password","database"})
//	DEBUG (permissive store mode), VOXDESK_SETTINGS_KEY
//	DB_POOL_MIN, DB_POOL_MAX, DB_POOL_RECYCLE
//	DB_RETRY_ATTEMPTS, DB_RETRY_BASE_DELAY, DB_ATTEMPT_TIMEOUT
//	LOG_LEVEL, LOG_FORMAT, METRICS_ADDR
//
// # Usage Example
//
//	cfg, err := config.Load("/etc/voxdesk/voxdesk.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store := stores.New(cfg.StoreConfig(), stores.WithTelemetry(tel))
//
// # Hot Reload
//
// Watch re-reads the file after it changes, debounced, and hands each valid
// result to a callback. The agent command uses it to attach or detach the
// external store without a restart.
package config
