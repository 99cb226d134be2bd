// Package metrics exposes Prometheus counters for proxy traffic, policy
// decisions and delegation. A nil *Metrics records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	requests        *prometheus.CounterVec
	refusals        *prometheus.CounterVec
	toolResults     *prometheus.CounterVec
	optimizations   *prometheus.CounterVec
	delegations     *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		gatherer: reg,
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustproxy_requests_total",
				Help: "Chat completion requests handled by the proxy",
			},
			[]string{"provider", "status"},
		),
		refusals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustproxy_tool_refusals_total",
				Help: "Tool calls refused by invocation policies",
			},
			[]string{"source", "cause"},
		),
		toolResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustproxy_tool_results_total",
				Help: "Tool results evaluated for trust",
			},
			[]string{"trusted"},
		),
		optimizations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustproxy_optimization_matches_total",
				Help: "Requests rerouted by optimization rules",
			},
			[]string{"target_model"},
		),
		delegations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustproxy_delegations_total",
				Help: "Agent to agent delegations",
			},
			[]string{"status"},
		),
		upstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trustproxy_upstream_duration_seconds",
				Help:    "Upstream LLM call duration",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "stream"},
		),
	}

	reg.MustRegister(m.requests, m.refusals, m.toolResults, m.optimizations, m.delegations, m.upstreamLatency)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Request(provider, status string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(provider, status).Inc()
}

// Refusal counts a refused tool call. cause is one of a fixed set; tool names
// come from model output and are not used as labels.
func (m *Metrics) Refusal(source, cause string) {
	if m == nil {
		return
	}
	m.refusals.WithLabelValues(source, cause).Inc()
}

func (m *Metrics) ToolResult(trusted bool) {
	if m == nil {
		return
	}
	label := "false"
	if trusted {
		label = "true"
	}
	m.toolResults.WithLabelValues(label).Inc()
}

func (m *Metrics) Optimization(targetModel string) {
	if m == nil {
		return
	}
	m.optimizations.WithLabelValues(targetModel).Inc()
}

func (m *Metrics) Delegation(status string) {
	if m == nil {
		return
	}
	m.delegations.WithLabelValues(status).Inc()
}

func (m *Metrics) Upstream(provider string, stream bool, d time.Duration) {
	if m == nil {
		return
	}
	label := "false"
	if stream {
		label = "true"
	}
	m.upstreamLatency.WithLabelValues(provider, label).Observe(d.Seconds())
}
