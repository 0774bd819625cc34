// Package metrics exposes Prometheus collectors for the fetch gateway.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Robots check results.
const (
	RobotsAllowed     = "allowed"
	RobotsDisallowed  = "disallowed"
	RobotsUnavailable = "unavailable"
	RobotsSkipped     = "skipped"
)

// Upstream fetch targets.
const (
	TargetRobots = "robots"
	TargetPage   = "page"
)

var (
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	gatewayRequestsTotal          *prometheus.CounterVec
	gatewayRobotsChecksTotal      *prometheus.CounterVec
	gatewayUpstreamFetchSeconds   *prometheus.HistogramVec
	gatewayGuardRejectionsTotal   *prometheus.CounterVec
	gatewayUpstreamResponsesTotal *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
			[]string{"method", "route"},
		)

		gatewayRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_requests_total",
				Help: "Gateway fetches by terminal outcome (ok or error kind).",
			},
			[]string{"outcome"},
		)

		gatewayRobotsChecksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_robots_checks_total",
				Help: "robots.txt evaluations, labeled by result.",
			},
			[]string{"result"},
		)

		gatewayUpstreamFetchSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_upstream_fetch_duration_seconds",
				Help:    "Latency of outbound fetches, labeled by target (robots or page).",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
			},
			[]string{"target"},
		)

		gatewayGuardRejectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_guard_rejections_total",
				Help: "Requests rejected by the host guard, labeled by reason.",
			},
			[]string{"reason"},
		)

		gatewayUpstreamResponsesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_responses_total",
				Help: "Upstream page responses, labeled by status code.",
			},
			[]string{"code"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveGatewayOutcome counts one finished gateway fetch.
func ObserveGatewayOutcome(outcome string) {
	gatewayRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRobotsCheck counts one robots.txt evaluation.
func ObserveRobotsCheck(result string) {
	gatewayRobotsChecksTotal.WithLabelValues(result).Inc()
}

// ObserveUpstreamFetch records the latency of an outbound fetch.
func ObserveUpstreamFetch(target string, duration time.Duration) {
	gatewayUpstreamFetchSeconds.WithLabelValues(target).Observe(duration.Seconds())
}

// ObserveGuardRejection counts a host guard rejection.
func ObserveGuardRejection(reason string) {
	gatewayGuardRejectionsTotal.WithLabelValues(reason).Inc()
}

// ObserveUpstreamStatus counts an upstream page response by status code.
func ObserveUpstreamStatus(code int) {
	gatewayUpstreamResponsesTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}
