package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/voxdesk/voxdesk/pkg/config"
	"github.com/voxdesk/voxdesk/pkg/secrets"
	"github.com/voxdesk/voxdesk/pkg/stores"
	"github.com/voxdesk/voxdesk/pkg/telemetry"
)

// session is one configured store with its telemetry.
type session struct {
	cfg   *config.Config
	tel   *telemetry.Telemetry
	store *stores.Store
}

type sessionOptions struct {
	connect bool
	serve   bool
}

// openSession loads configuration and builds the store. Short-lived
// commands get synchronous events and no metrics registry.
func openSession(ctx context.Context, opts sessionOptions) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return newSession(ctx, cfg, opts)
}

func newSession(ctx context.Context, cfg *config.Config, opts sessionOptions) (*session, error) {
	tc := cfg.TelemetryConfig(appVersion)
	if !opts.serve {
		tc.Metrics.Enabled = false
		tc.Events.EnableAsync = false
	}
	tel, err := telemetry.NewTelemetry(tc)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	storeOpts := []stores.Option{stores.WithTelemetry(tel)}
	if cfg.SettingsKey != "" {
		sealer, err := secrets.NewSealer(cfg.SettingsKey)
		if err != nil {
			_ = tel.Shutdown(ctx)
			return nil, err
		}
		storeOpts = append(storeOpts, stores.WithSealer(sealer))
	}

	s := &session{
		cfg:   cfg,
		tel:   tel,
		store: stores.New(cfg.StoreConfig(), storeOpts...),
	}
	if opts.connect {
		if err := s.store.Connect(ctx); err != nil {
			s.Close(ctx)
			return nil, fmt.Errorf("failed to connect: %w", err)
		}
	}
	return s, nil
}

// Close releases the pools, then flushes telemetry.
func (s *session) Close(ctx context.Context) {
	_ = s.store.Close()
	_ = s.tel.Shutdown(ctx)
}

// connFlags are the connection parameters accepted on the command line.
type connFlags struct {
	host     string
	port     int
	user     string
	password string
	database string
}

func (f *connFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.host, "host", "", "database host")
	cmd.Flags().IntVar(&f.port, "port", 0, "database port (default 3306 for mysql)")
	cmd.Flags().StringVar(&f.user, "user", "", "database user")
	cmd.Flags().StringVar(&f.password, "password", "", "database password")
	cmd.Flags().StringVar(&f.database, "database", "", "database name, or file path for sqlite")
}

func (f *connFlags) isSet() bool {
	return f.host != "" || f.user != "" || f.password != "" || f.database != ""
}

func (f *connFlags) connection() stores.ConnectionConfig {
	return stores.ConnectionConfig{
		Host:     f.host,
		Port:     f.port,
		User:     f.user,
		Secret:   f.password,
		Database: f.database,
	}
}

// printResult writes v as JSON when --json is set, otherwise calls text.
func printResult(w io.Writer, v any, text func(io.Writer)) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
