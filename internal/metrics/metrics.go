// Package metrics exposes Prometheus counters for requests and ledger
// activity.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	Requests       *prometheus.CounterVec
	Duration       *prometheus.HistogramVec
	WalletSends    *prometheus.CounterVec
	RewardsClaimed prometheus.Counter
	Orders         *prometheus.CounterVec
	JobRuns        *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campuscoin_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "campuscoin_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		WalletSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campuscoin_wallet_sends_total",
			Help: "Wallet sends by outcome.",
		}, []string{"outcome"}),
		RewardsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "campuscoin_rewards_claimed_total",
			Help: "Event rewards credited to students.",
		}),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campuscoin_orders_total",
			Help: "Order transitions by resulting status.",
		}, []string{"status"}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campuscoin_job_runs_total",
			Help: "Background job runs by job and outcome.",
		}, []string{"job", "outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Requests, m.Duration, m.WalletSends, m.RewardsClaimed, m.Orders, m.JobRuns,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Middleware counts requests by their chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
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
		m.Requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.Duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) JobRun(job string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.JobRuns.WithLabelValues(job, outcome).Inc()
}
