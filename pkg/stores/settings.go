package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const externalSettingsKey = "external_db"

// SecretSealer protects the external secret at rest.
type SecretSealer interface {
	Seal(plaintext []byte) (string, error)
	Open(sealed string) ([]byte, error)
}

// ExternalSettings is the persisted external-store preference. It lives
// as a JSON blob in the local store's app_settings table.
type ExternalSettings struct {
	Enabled        bool   `json:"enabled"`
	Host           string `json:"host,omitempty"`
	Port           int    `json:"port,omitempty"`
	User           string `json:"user,omitempty"`
	Password       string `json:"password,omitempty"`
	SealedPassword string `json:"sealed_password,omitempty"`
	Database       string `json:"database,omitempty"`
}

// SettingsRepository reads and writes ExternalSettings on a local handle.
type SettingsRepository struct {
	driver string
	sealer SecretSealer
}

// NewSettingsRepository returns a repository. sealer may be nil, in which
// case the secret is stored as-is.
func NewSettingsRepository(driver string, sealer SecretSealer) *SettingsRepository {
	return &SettingsRepository{driver: driverName(driver), sealer: sealer}
}

// Load returns the persisted settings, or nil if none were saved.
func (r *SettingsRepository) Load(ctx context.Context, h *Handle) (*ExternalSettings, error) {
	var blob string
	err := h.WithConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx,
			"SELECT setting_value FROM app_settings WHERE setting_key = ?",
			externalSettingsKey,
		).Scan(&blob)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	var s ExternalSettings
	if err := json.Unmarshal([]byte(blob), &s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if s.SealedPassword != "" {
		if r.sealer == nil {
			return nil, fmt.Errorf("settings contain a sealed secret but no settings key is configured")
		}
		plain, err := r.sealer.Open(s.SealedPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to open sealed secret: %w", err)
		}
		s.Password = string(plain)
		s.SealedPassword = ""
	}
	return &s, nil
}

// Save persists the preference. The secret is sealed when a sealer is set.
func (r *SettingsRepository) Save(ctx context.Context, h *Handle, s ExternalSettings) error {
	if r.sealer != nil && s.Password != "" {
		sealed, err := r.sealer.Seal([]byte(s.Password))
		if err != nil {
			return fmt.Errorf("failed to seal secret: %w", err)
		}
		s.SealedPassword = sealed
		s.Password = ""
	}

	blob, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	return h.WithConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, r.upsertSQL(), externalSettingsKey, string(blob))
		return err
	})
}

func (r *SettingsRepository) upsertSQL() string {
	if r.driver == DriverSQLite {
		return `INSERT INTO app_settings (setting_key, setting_value) VALUES (?, ?)
			ON CONFLICT(setting_key) DO UPDATE SET setting_value = excluded.setting_value, updated_at = CURRENT_TIMESTAMP`
	}
	return `INSERT INTO app_settings (setting_key, setting_value) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE setting_value = VALUES(setting_value)`
}

// ConnectionConfig converts the settings for driver.
func (s ExternalSettings) ConnectionConfig(driver string) ConnectionConfig {
	return ConnectionConfig{
		Driver:   driver,
		Host:     s.Host,
		Port:     s.Port,
		User:     s.User,
		Secret:   s.Password,
		Database: s.Database,
	}
}

func settingsFor(enabled bool, cfg ConnectionConfig) ExternalSettings {
	return ExternalSettings{
		Enabled:  enabled,
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Secret,
		Database: cfg.Database,
	}
}
