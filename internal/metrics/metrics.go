// Package metrics exposes Prometheus collectors for grading, the judge,
// speech sessions and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Verdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bp_verdicts_total",
			Help: "Evaluated answers by channel, answer kind and correctness",
		},
		[]string{"channel", "kind", "correct"},
	)

	JudgeCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bp_judge_calls_total",
			Help: "LLM judge calls by outcome (verdict, rate_limited, fault)",
		},
		[]string{"outcome"},
	)

	JudgeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bp_judge_duration_seconds",
			Help:    "Duration of LLM judge calls",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	SpeechSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bp_speech_sessions_active",
			Help: "Open speech sessions",
		},
	)

	SpeechFinals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bp_speech_finals_total",
			Help: "Final transcripts by handling (answer, skip, finish, unparseable, error)",
		},
		[]string{"outcome"},
	)

	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bp_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bp_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

var registerOnce sync.Once

// Register adds all collectors to the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			Verdicts, JudgeCalls, JudgeDuration,
			SpeechSessions, SpeechFinals,
			RequestCounter, RequestDuration,
		)
	})
}

// ObserveVerdict counts one evaluated answer.
func ObserveVerdict(channel, kind string, correct bool) {
	Verdicts.WithLabelValues(channel, kind, strconv.FormatBool(correct)).Inc()
}

// Middleware records request counts and latencies by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RequestCounter.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
