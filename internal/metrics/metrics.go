// Package metrics provides the guest-side Prometheus collectors: a
// request counter by route and response code, a handler duration
// histogram, a rate-limiter rejection counter, and a reconnect counter.
// It satisfies server.Metrics without that package importing Prometheus
// directly.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors bundles the guest daemon's metrics and implements
// server.Metrics.
type Collectors struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	rateLimited *prometheus.CounterVec
	reconnects  prometheus.Counter
}

// New registers and returns the guest daemon's collectors against reg.
// Pass prometheus.NewRegistry() in tests to avoid collisions with the
// global default registry.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vserial_rpc",
			Name:      "requests_total",
			Help:      "Total requests processed by the guest server, by method, path, and response code.",
		}, []string{"method", "path", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vserial_rpc",
			Name:      "handler_duration_seconds",
			Help:      "Handler invocation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vserial_rpc",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter, by method and path.",
		}, []string{"method", "path"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vserial_rpc",
			Name:      "channel_reconnects_total",
			Help:      "Number of times the guest server has had to reopen the channel.",
		}),
	}
	reg.MustRegister(c.requests, c.duration, c.rateLimited, c.reconnects)
	return c
}

// ObserveRequest implements server.Metrics.
func (c *Collectors) ObserveRequest(method, path string, code int, duration time.Duration) {
	c.requests.WithLabelValues(method, path, strconv.Itoa(code)).Inc()
	c.duration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveRateLimited implements server.Metrics.
func (c *Collectors) ObserveRateLimited(method, path string) {
	c.rateLimited.WithLabelValues(method, path).Inc()
}

// ObserveReconnect implements server.Metrics.
func (c *Collectors) ObserveReconnect() {
	c.reconnects.Inc()
}

