// Package metrics provides Prometheus metrics instrumentation for sigflow.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sigflow/sigflow/pkg/logger"
)

// Manager manages all Prometheus metrics for sigflow. It implements the
// recorder interfaces of pkg/sigslot and pkg/taskq.
type Manager struct {
	registry *prometheus.Registry
	enabled  atomic.Bool

	// Signal metrics
	signalEmits     *prometheus.CounterVec
	slotInvocations *prometheus.CounterVec
	slotSkips       *prometheus.CounterVec
	connections     *prometheus.CounterVec

	// Queue metrics
	queueDepth   *prometheus.GaugeVec
	taskWait     *prometheus.HistogramVec
	taskDuration *prometheus.HistogramVec
	taskPanics   *prometheus.CounterVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Port    int
	Path    string

	// Histogram bucket configurations
	TaskWaitBuckets     []float64
	TaskDurationBuckets []float64
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		Port:                9091,
		Path:                "/metrics",
		TaskWaitBuckets:     []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30},
		TaskDurationBuckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	}
}

// NewManager creates a new metrics manager. The metric vectors are always
// registered; cfg.Enabled only sets the initial recording state, which can
// change at runtime through SetEnabled.
func NewManager(cfg Config) *Manager {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
	}
	m.enabled.Store(cfg.Enabled)

	m.initSignalMetrics()
	m.initQueueMetrics(cfg)

	return m
}

// Enabled returns whether metrics collection is enabled.
func (m *Manager) Enabled() bool {
	return m.enabled.Load()
}

// SetEnabled toggles metrics collection and the metrics endpoint at runtime
// (hot-reload). The server's port and path are fixed at startup; changing
// them requires a restart.
func (m *Manager) SetEnabled(enabled bool) {
	m.enabled.Store(enabled)
}

// Handler returns the HTTP handler for the metrics endpoint. While metrics
// are disabled the handler responds 404.
func (m *Manager) Handler() http.Handler {
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		inner.ServeHTTP(w, r)
	})
}

// StartServer starts the metrics HTTP server and blocks until ctx is done.
// When metrics are disabled it returns nil at once without starting a server.
func (m *Manager) StartServer(ctx context.Context, port int, path string) error {
	if !m.Enabled() {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", "error", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}
