package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	ticksTotal          prometheus.Counter
	tickDuration        prometheus.Histogram
	outputEvaluations   *prometheus.CounterVec
	staleDiscarded      *prometheus.CounterVec
	ingestItems         *prometheus.CounterVec
	macRefreshes        *prometheus.CounterVec
	activeSessions      prometheus.Gauge
}

// New creates a fresh Metrics registry with HTTP, engine and ingest metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beacongraph",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by core-go",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "beacongraph",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by core-go",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	ticksTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "beacongraph",
		Name:      "engine_ticks_total",
		Help:      "Total number of settled engine ticks",
	})

	tickDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "beacongraph",
		Name:      "engine_tick_duration_seconds",
		Help:      "Duration of an engine tick from dispatch to settlement",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
	})

	outputEvaluations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beacongraph",
		Name:      "engine_output_evaluations_total",
		Help:      "Output recomputations by output and result",
	}, []string{"output", "result"})

	staleDiscarded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beacongraph",
		Name:      "engine_stale_results_total",
		Help:      "Output results discarded because a newer tick superseded them",
	}, []string{"output"})

	ingestItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beacongraph",
		Name:      "ingest_items_total",
		Help:      "Uploaded files processed by the ingestion gateway",
	}, []string{"result"})

	macRefreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beacongraph",
		Name:      "mac_refresh_total",
		Help:      "MAC vendor table refresh attempts",
	}, []string{"result"})

	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "beacongraph",
		Name:      "active_sessions",
		Help:      "Console sessions currently held in memory",
	})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		ticksTotal,
		tickDuration,
		outputEvaluations,
		staleDiscarded,
		ingestItems,
		macRefreshes,
		activeSessions,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		ticksTotal:          ticksTotal,
		tickDuration:        tickDuration,
		outputEvaluations:   outputEvaluations,
		staleDiscarded:      staleDiscarded,
		ingestItems:         ingestItems,
		macRefreshes:        macRefreshes,
		activeSessions:      activeSessions,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveTick records one settled tick.
func (m *Metrics) ObserveTick(duration time.Duration) {
	if m == nil {
		return
	}
	m.ticksTotal.Inc()
	m.tickDuration.Observe(duration.Seconds())
}

// ObserveOutput counts one recomputation of output ("ok", "fallback", "retained").
func (m *Metrics) ObserveOutput(output, result string) {
	if m == nil {
		return
	}
	m.outputEvaluations.WithLabelValues(output, result).Inc()
}

func (m *Metrics) IncStaleDiscard(output string) {
	if m == nil {
		return
	}
	m.staleDiscarded.WithLabelValues(output).Inc()
}

// ObserveIngestItem counts one uploaded file ("applied", "partial", "failed").
func (m *Metrics) ObserveIngestItem(result string) {
	if m == nil {
		return
	}
	m.ingestItems.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveMACRefresh(success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.macRefreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
