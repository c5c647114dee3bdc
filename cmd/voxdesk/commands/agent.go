package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/voxdesk/voxdesk/pkg/config"
	"github.com/voxdesk/voxdesk/pkg/stores"
	"github.com/voxdesk/voxdesk/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newAgentCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the long-lived store agent",
		Long: `Connect and keep the stores open, serving:

  /metrics   Prometheus metrics (path follows metrics.path)
  /status    active store and replication counters as JSON
  /healthz   200 while the active store is connected

With --config the file is watched. Changing database.use_external or
database.external attaches or detaches the external store without a
restart.`,
		Example: `  voxdesk agent --config /etc/voxdesk/voxdesk.yaml
  voxdesk agent --listen 127.0.0.1:9191`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := openSession(ctx, sessionOptions{connect: true, serve: true})
			if err != nil {
				return err
			}

			addr := sess.cfg.Metrics.Address
			if listen != "" {
				addr = listen
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           newAgentMux(sess),
				ReadHeaderTimeout: 5 * time.Second,
			}

			serveErr := make(chan error, 1)
			go func() {
				log.Info().Str("addr", addr).Msg("Agent listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			if configPath != "" {
				r := newReconciler(sess.store, sess.cfg, sess.tel)
				if _, err := config.Watch(ctx, configPath, func(next *config.Config) error {
					return r.apply(ctx, configPath, next)
				}, sess.tel.Logger); err != nil {
					log.Warn().Err(err).Msg("Configuration hot reload disabled")
				}
			}

			select {
			case <-ctx.Done():
			case err = <-serveErr:
			}

			log.Info().Msg("Shutting down agent")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				log.Error().Err(serr).Msg("HTTP shutdown failed")
			}
			sess.Close(shutdownCtx)
			return err
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default metrics.address)")
	return cmd
}

type agentStatus struct {
	statusReport
	Replication stores.ReplicationStats `json:"replication"`
}

func newAgentMux(sess *session) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(sess.tel.Metrics.Path(), sess.tel.Metrics.Handler())

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		body := agentStatus{
			statusReport: statusReport{Status: sess.store.Status(), Mode: sess.store.Mode().String()},
			Replication:  sess.store.ReplicationStats(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !sess.store.Status().Connected {
			http.Error(w, "not connected", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})

	return mux
}

// switcher is the part of the store the reconciler drives.
type switcher interface {
	SwitchToExternal(ctx context.Context, enable bool, cfg *stores.ConnectionConfig) (bool, error)
	Status() stores.Status
}

// reconciler applies external-store changes from reloaded configuration.
type reconciler struct {
	store  switcher
	events *telemetry.EventPublisher
	logger *telemetry.Logger

	mu      sync.Mutex
	enabled bool
	current *stores.ConnectionConfig
}

// newReconciler starts from what the connected store actually runs, which
// differs from cfg after a fallback or when persisted settings won.
func newReconciler(store switcher, cfg *config.Config, tel *telemetry.Telemetry) *reconciler {
	st := store.Status()
	r := &reconciler{
		store:   store,
		events:  tel.Events,
		logger:  tel.Logger.NewComponentLogger("reload"),
		enabled: st.UsingExternal,
	}
	if ext := cfg.ExternalConnection(); st.UsingExternal && ext != nil &&
		st.ExternalConfig != nil && ext.Summary() == *st.ExternalConfig {
		r.current = ext
	}
	return r
}

// apply switches the store when the external settings in next differ from
// the last applied ones. Other changes need a restart and are ignored.
func (r *reconciler) apply(ctx context.Context, path string, next *config.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	enabled := next.Database.UseExternal
	ext := next.ExternalConnection()
	if enabled == r.enabled && (!enabled || sameConnection(ext, r.current)) {
		r.logger.Debug("External store settings unchanged")
		return nil
	}

	var target *stores.ConnectionConfig
	if enabled {
		target = ext
	}
	ok, err := r.store.SwitchToExternal(ctx, enabled, target)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("switch to external=%v failed", enabled)
	}

	r.enabled = enabled
	r.current = ext
	_ = r.events.PublishConfigReloaded(path)
	r.logger.WithField("use_external", enabled).Info("Applied reloaded external store settings")
	return nil
}

func sameConnection(a, b *stores.ConnectionConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
