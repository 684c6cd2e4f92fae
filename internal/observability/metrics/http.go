package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	queryTotal          *prometheus.CounterVec
	queryDuration       *prometheus.HistogramVec
	retrievedSources    *prometheus.HistogramVec
	noContextTotal      *prometheus.CounterVec
	keywordAbsentTotal  *prometheus.CounterVec
	rerankFallbackTotal *prometheus.CounterVec
	condensedTotal      *prometheus.CounterVec
	keywordRefreshTotal *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dq",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dq",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dq",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queryTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dq",
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Total completed query requests by outcome.",
		},
		[]string{"service", "endpoint", "outcome"},
	)
	queryDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dq",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Query execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	retrievedSources := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dq",
			Subsystem: "query",
			Name:      "retrieved_sources",
			Help:      "Distribution of retrieved sources per answered query.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service", "endpoint"},
	)
	noContextTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dq",
			Subsystem: "query",
			Name:      "no_context_total",
			Help:      "Total queries answered without retrieved passages.",
		},
		[]string{"service", "endpoint"},
	)
	keywordAbsentTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dq",
			Subsystem: "retrieval",
			Name:      "keyword_absent_total",
			Help:      "Total queries served while the keyword index was absent.",
		},
		[]string{"service"},
	)
	rerankFallbackTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dq",
			Subsystem: "retrieval",
			Name:      "rerank_fallback_total",
			Help:      "Total queries that fell back to fusion order after a rerank failure.",
		},
		[]string{"service"},
	)
	condensedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dq",
			Subsystem: "session",
			Name:      "condensed_queries_total",
			Help:      "Total follow-up questions rewritten into standalone queries.",
		},
		[]string{"service"},
	)
	keywordRefreshTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dq",
			Subsystem: "retrieval",
			Name:      "keyword_refresh_total",
			Help:      "Total keyword index rebuilds by outcome.",
		},
		[]string{"service", "outcome"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		queryTotal,
		queryDuration,
		retrievedSources,
		noContextTotal,
		keywordAbsentTotal,
		rerankFallbackTotal,
		condensedTotal,
		keywordRefreshTotal,
	)

	return &HTTPServerMetrics{
		registry:            registry,
		requestTotal:        requestTotal,
		requestDuration:     requestDuration,
		requestInFlight:     requestInFlight,
		queryTotal:          queryTotal,
		queryDuration:       queryDuration,
		retrievedSources:    retrievedSources,
		noContextTotal:      noContextTotal,
		keywordAbsentTotal:  keywordAbsentTotal,
		rerankFallbackTotal: rerankFallbackTotal,
		condensedTotal:      condensedTotal,
		keywordRefreshTotal: keywordRefreshTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/documents/"):
		return "/v1/documents/{document_id}"
	case strings.HasPrefix(path, "/v1/batches/"):
		return "/v1/batches/{batch_id}"
	case strings.HasPrefix(path, "/v1/sessions/"):
		return "/v1/sessions/{session_id}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordQuery(service, endpoint, outcome string, sources int, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.queryTotal.WithLabelValues(service, endpoint, outcome).Inc()
	m.queryDuration.WithLabelValues(service, endpoint).Observe(duration.Seconds())
	m.retrievedSources.WithLabelValues(service, endpoint).Observe(float64(sources))
	if sources == 0 {
		m.noContextTotal.WithLabelValues(service, endpoint).Inc()
	}
}

func (m *HTTPServerMetrics) RecordKeywordAbsent(service string) {
	m.keywordAbsentTotal.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordRerankFallback(service string) {
	m.rerankFallbackTotal.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordCondensedQuery(service string) {
	m.condensedTotal.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordKeywordRefresh(service string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.keywordRefreshTotal.WithLabelValues(service, outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
