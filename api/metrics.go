// Package api provides the Arrow request handler, the TCP server and client,
// and the Prometheus metrics of the correlation service.
package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VanDung-dev/spearman-engine/engine"
	"github.com/VanDung-dev/spearman-engine/spearman"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Request metrics
	RequestsTotal  *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
	RequestBytes   prometheus.Histogram

	// Matrix metrics
	MatricesTotal *prometheus.CounterVec
	MatrixLatency prometheus.Histogram
	MatrixColumns prometheus.Histogram
	CellsTotal    *prometheus.CounterVec

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// System metrics
	WorkerPoolActive  prometheus.Gauge
	WorkerPoolPending prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewMetrics creates a new Metrics instance with the given namespace,
// registered on reg. A nil reg gets a fresh private registry.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total requests by transport and status",
		}, []string{"transport", "status"}),
		RequestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request duration by transport",
			Buckets:   prometheus.DefBuckets,
		}, []string{"transport"}),
		RequestBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_bytes",
			Help:      "Size of request payloads in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),

		MatricesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matrices_total",
			Help:      "Total correlation matrices by mode and status",
		}, []string{"mode", "status"}),
		MatrixLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "matrix_latency_seconds",
			Help:      "Correlation matrix computation latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		MatrixColumns: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "matrix_columns",
			Help:      "Number of columns per correlation matrix",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),
		CellsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cells_total",
			Help:      "Matrix cells by how they were produced",
		}, []string{"kind"}),

		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Requests answered from the result cache",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Requests not found in the result cache",
		}),

		WorkerPoolActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_active",
			Help:      "Number of active workers",
		}),
		WorkerPoolPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_pending",
			Help:      "Number of pending tasks in worker pool",
		}),

		gatherer: reg,
	}
}

// Gatherer returns the registry the metrics are registered on.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.gatherer
}

// RecordMatrix records a correlation matrix computation.
func (m *Metrics) RecordMatrix(mode spearman.Mode, columns int, duration time.Duration, err error) {
	m.MatricesTotal.WithLabelValues(mode.String(), statusLabel(err)).Inc()
	if err != nil {
		return
	}
	m.MatrixLatency.Observe(duration.Seconds())
	m.MatrixColumns.Observe(float64(columns))
}

// RecordCell records one filled matrix cell.
func (m *Metrics) RecordCell(kind spearman.CellKind) {
	m.CellsTotal.WithLabelValues(kind.String()).Inc()
}

// RecordRequest records a served request.
func (m *Metrics) RecordRequest(transport string, size int, duration time.Duration, err error) {
	m.RequestsTotal.WithLabelValues(transport, statusLabel(err)).Inc()
	m.RequestLatency.WithLabelValues(transport).Observe(duration.Seconds())
	m.RequestBytes.Observe(float64(size))
}

// RecordCache records a result cache lookup.
func (m *Metrics) RecordCache(hit bool) {
	if hit {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}

// UpdateWorkerPool updates worker pool gauges.
func (m *Metrics) UpdateWorkerPool(stats engine.PoolStats) {
	m.WorkerPoolActive.Set(float64(stats.Active))
	m.WorkerPoolPending.Set(float64(stats.Pending))
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// MetricsServer runs an HTTP server exposing /metrics endpoint.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates a new metrics server on the given address,
// serving the metrics gathered by g.
func NewMetricsServer(addr string, g prometheus.Gatherer) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &MetricsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the HTTP handler serving /metrics and /health.
func (s *MetricsServer) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the metrics server (blocking).
func (s *MetricsServer) Start() error {
	return s.server.ListenAndServe()
}

// StartAsync starts the metrics server in a goroutine.
func (s *MetricsServer) StartAsync() {
	go func() {
		_ = s.server.ListenAndServe()
	}()
}

// Stop gracefully stops the metrics server.
func (s *MetricsServer) Stop() error {
	return s.server.Close()
}
