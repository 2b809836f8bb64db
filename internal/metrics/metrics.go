// Package metrics holds the Prometheus collectors shared by the tutor
// components. Collectors are package-level so call sites stay one-liners;
// Register attaches them to a registry once at startup.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Routes counts agent decisions by route (submit, view, create, graph, search, chat, ...).
	Routes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutor_agent_routes_total",
			Help: "Agent requests by chosen route.",
		},
		[]string{"route"},
	)

	// GuardVerdicts counts guard decisions by layer and outcome.
	GuardVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutor_guard_verdicts_total",
			Help: "Quiz guard verdicts by method and outcome.",
		},
		[]string{"method", "blocked"},
	)

	llmRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutor_llm_requests_total",
			Help: "LLM and embedding calls by purpose and status.",
		},
		[]string{"purpose", "status"},
	)

	llmDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutor_llm_request_duration_seconds",
			Help:    "LLM and embedding call latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"purpose"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutor_http_requests_total",
			Help: "HTTP requests by route pattern, method and status code.",
		},
		[]string{"route", "method", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutor_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{Routes, GuardVerdicts, llmRequests, llmDuration, httpRequests, httpDuration} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLLM records one LLM or embedding call that started at start.
func ObserveLLM(purpose string, start time.Time, err error) {
	if purpose == "" {
		purpose = "unknown"
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	llmRequests.WithLabelValues(purpose, status).Inc()
	llmDuration.WithLabelValues(purpose).Observe(time.Since(start).Seconds())
}

// Middleware records request counts and latency labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
