package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for client runs.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsCompleted    *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	lastRunTimestamp prometheus.Gauge

	// Item metrics
	itemsReconciled *prometheus.CounterVec
	itemDuration    *prometheus.HistogramVec

	// Repository metrics
	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	knownPrinters prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of client runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of client runs in seconds",
				Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		lastRunTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last client run completed",
			},
		),

		itemsReconciled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_reconciled_total",
				Help:      "Total number of managed items reconciled by outcome",
			},
			[]string{"action", "scope", "outcome"},
		),
		itemDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "item_duration_seconds",
				Help:      "Duration of single item reconciliation in seconds",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"action"},
		),

		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "repo_fetches_total",
				Help:      "Total number of repository document fetches",
			},
			[]string{"kind", "status"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "repo_fetch_duration_seconds",
				Help:      "Duration of repository document fetches in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),

		knownPrinters: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "known_user_printers",
				Help:      "Number of printers installed at a user's request",
			},
		),
	}

	registry.MustRegister(
		m.runsCompleted,
		m.runDuration,
		m.lastRunTimestamp,
		m.itemsReconciled,
		m.itemDuration,
		m.fetches,
		m.fetchDuration,
		m.errorsByClass,
		m.knownPrinters,
	)

	return m, nil
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.lastRunTimestamp.SetToCurrentTime()
}

// RecordItem records the outcome of one reconciliation.
func (m *Metrics) RecordItem(action, scope, outcome string, duration time.Duration) {
	if m.itemsReconciled == nil {
		return
	}
	m.itemsReconciled.WithLabelValues(action, scope, outcome).Inc()
	m.itemDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordFetch records a repository fetch.
func (m *Metrics) RecordFetch(kind, status string, duration time.Duration) {
	if m.fetches == nil {
		return
	}
	m.fetches.WithLabelValues(kind, status).Inc()
	m.fetchDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil || errorClass == "" {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// SetKnownPrinters sets the size of the known user printer list.
func (m *Metrics) SetKnownPrinters(count int) {
	if m.knownPrinters == nil {
		return
	}
	m.knownPrinters.Set(float64(count))
}

// Registry returns the private registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics in the text exposition format for the
// node_exporter textfile collector. It does nothing when metrics are
// disabled or no textfile is configured.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.Textfile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.config.Textfile, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Timer provides a convenient way to time operations.
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
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves metrics until ctx is done. It does nothing when
// metrics are disabled or no listen address is configured.
func (m *Metrics) StartMetricsServer(ctx context.Context) error {
	if m.registry == nil || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("address", m.config.ListenAddress).Msg("metrics server error")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return nil
}
