// Package metrics holds the Prometheus counters exported by the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	cacheResultHit  = "hit"
	cacheResultMiss = "miss"
)

// Registry bundles the server's counters. The namespace is configurable so
// several instances can share a scrape target without colliding. A nil
// Registry drops every increment.
type Registry struct {
	registry *prometheus.Registry

	httpRequestsTotal            prometheus.Counter
	toolCallsTotal               *prometheus.CounterVec
	toolCacheTotal               *prometheus.CounterVec
	toolGuardrailRejectionsTotal *prometheus.CounterVec
	toolRateLimitedTotal         *prometheus.CounterVec
	readinessCacheTotal          *prometheus.CounterVec
}

func New(namespace string) *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		registry: reg,
		httpRequestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests handled by loki-mcp",
		}),
		toolCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total MCP tool calls partitioned by tool and outcome",
		}, []string{"tool", "outcome"}),
		toolCacheTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_cache_total",
			Help:      "Total cache lookups partitioned by tool and result",
		}, []string{"tool", "result"}),
		toolGuardrailRejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_guardrail_rejections_total",
			Help:      "Total MCP tool guardrail rejections partitioned by tool",
		}, []string{"tool"}),
		toolRateLimitedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_rate_limited_total",
			Help:      "Total MCP tool calls rejected by rate limiting partitioned by tool",
		}, []string{"tool"}),
		readinessCacheTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readiness_cache_total",
			Help:      "Total readiness cache lookups partitioned by result",
		}, []string{"result"}),
	}
}

// Gatherer exposes the underlying registry for the /metrics handler.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

func (r *Registry) IncHTTPRequests() {
	if r == nil {
		return
	}
	r.httpRequestsTotal.Inc()
}

func (r *Registry) IncToolCall(tool, outcome string) {
	if r == nil {
		return
	}
	r.toolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

func (r *Registry) IncToolCacheHit(tool string) {
	if r == nil {
		return
	}
	r.toolCacheTotal.WithLabelValues(tool, cacheResultHit).Inc()
}

func (r *Registry) IncToolCacheMiss(tool string) {
	if r == nil {
		return
	}
	r.toolCacheTotal.WithLabelValues(tool, cacheResultMiss).Inc()
}

func (r *Registry) IncToolGuardrailRejection(tool string) {
	if r == nil {
		return
	}
	r.toolGuardrailRejectionsTotal.WithLabelValues(tool).Inc()
}

func (r *Registry) IncToolRateLimited(tool string) {
	if r == nil {
		return
	}
	r.toolRateLimitedTotal.WithLabelValues(tool).Inc()
}

func (r *Registry) IncReadinessCacheHit() {
	if r == nil {
		return
	}
	r.readinessCacheTotal.WithLabelValues(cacheResultHit).Inc()
}

func (r *Registry) IncReadinessCacheMiss() {
	if r == nil {
		return
	}
	r.readinessCacheTotal.WithLabelValues(cacheResultMiss).Inc()
}
