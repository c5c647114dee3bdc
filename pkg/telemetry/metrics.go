package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the data-access layer.
// Every method is safe on a nil or disabled instance.
type Metrics struct {
	config MetricsConfig

	// Retry metrics
	attempts  *prometheus.CounterVec
	retries   *prometheus.CounterVec
	exhausted *prometheus.CounterVec

	// Statement metrics
	statementDuration *prometheus.HistogramVec

	// Pool metrics
	connections *prometheus.CounterVec
	activeStore *prometheus.GaugeVec

	// Lifecycle metrics
	switches    *prometheus.CounterVec
	replication *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.LatencyBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_attempts_total",
				Help:      "Total number of database attempts, including retries",
			},
			[]string{"op"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_retries_total",
				Help:      "Total number of backoff sleeps before a retry",
			},
			[]string{"op"},
		),
		exhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_retries_exhausted_total",
				Help:      "Total number of operations that failed after every attempt",
			},
			[]string{"op", "kind"},
		),
		statementDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_operation_duration_seconds",
				Help:      "Duration of database operations in seconds, including retries",
				Buckets:   buckets,
			},
			[]string{"op", "target", "status"},
		),
		connections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_pool_opens_total",
				Help:      "Total number of connection pool open attempts",
			},
			[]string{"target", "status"},
		),
		activeStore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_active_store",
				Help:      "Store receiving general traffic (1=active, 0=inactive)",
			},
			[]string{"target"},
		),
		switches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_store_switches_total",
				Help:      "Total number of external store switch requests",
			},
			[]string{"direction", "status"},
		),
		replication: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_replication_total",
				Help:      "Total number of local mirror writes",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.attempts,
		m.retries,
		m.exhausted,
		m.statementDuration,
		m.connections,
		m.activeStore,
		m.switches,
		m.replication,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordAttempt counts one attempt of op.
func (m *Metrics) RecordAttempt(op string) {
	if !m.enabled() {
		return
	}
	m.attempts.WithLabelValues(op).Inc()
}

// RecordRetry counts one backoff sleep of op.
func (m *Metrics) RecordRetry(op string) {
	if !m.enabled() {
		return
	}
	m.retries.WithLabelValues(op).Inc()
}

// RecordExhausted counts an op that failed after every attempt.
func (m *Metrics) RecordExhausted(op, kind string) {
	if !m.enabled() {
		return
	}
	m.exhausted.WithLabelValues(op, kind).Inc()
}

// RecordOperation observes the wall-clock duration of op against target.
func (m *Metrics) RecordOperation(op, target, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.statementDuration.WithLabelValues(op, target, status).Observe(duration.Seconds())
}

// RecordPoolOpen counts a pool open attempt.
func (m *Metrics) RecordPoolOpen(target, status string) {
	if !m.enabled() {
		return
	}
	m.connections.WithLabelValues(target, status).Inc()
}

// SetActiveStore marks target as the store receiving general traffic.
func (m *Metrics) SetActiveStore(target string) {
	if !m.enabled() {
		return
	}
	for _, t := range []string{"local", "external"} {
		value := 0.0
		if t == target {
			value = 1.0
		}
		m.activeStore.WithLabelValues(t).Set(value)
	}
}

// RecordSwitch counts a switch request. direction is enable or disable.
func (m *Metrics) RecordSwitch(direction, status string) {
	if !m.enabled() {
		return
	}
	m.switches.WithLabelValues(direction, status).Inc()
}

// RecordReplication counts a finished mirror task.
func (m *Metrics) RecordReplication(status string) {
	if !m.enabled() {
		return
	}
	m.replication.WithLabelValues(status).Inc()
}

// Timer measures an operation.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Path returns the configured metrics path.
func (m *Metrics) Path() string {
	if m == nil || m.config.Path == "" {
		return "/metrics"
	}
	return m.config.Path
}
