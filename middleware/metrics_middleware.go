package middleware

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"conn-proxy/message"
)

const metricsNamespace = "conn_proxy"

// Metrics is a prometheus.Collector counting endpoint calls.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics returns a new Metrics. Register it before use.
func NewMetrics() *Metrics {
	return &Metrics{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "calls_total",
				Help:      "The number of calls handled, by method and outcome.",
			}, []string{"method", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "call_duration_seconds",
				Help:      "The time taken to handle a call.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 60},
			}, []string{"method"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.calls.Describe(ch)
	m.duration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.calls.Collect(ch)
	m.duration.Collect(ch)
}

// Middleware records each call. Successful calls are counted under the
// code "ok".
func (m *Metrics) Middleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			code := "ok"
			if resp.Failed() {
				code = resp.ErrorCode
			}
			m.calls.WithLabelValues(req.Method, code).Inc()
			m.duration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
			return resp
		}
	}
}
