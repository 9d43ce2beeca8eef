// Package metrics registers the counters and histograms that back
// spec.md §8's testable invariants (requests proxied, pool hits/misses,
// bodies re-framed, filter rejections) using
// github.com/prometheus/client_golang, the same stack the pack's other
// gateway-shaped repos expose over an HTTP /metrics endpoint
// (DESIGN.md "internal/metrics").
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Proxy bundles every metric the stream engine and connection pool
// update. A nil *Proxy is valid and every method on it is a no-op, so
// callers that don't want metrics (e.g. unit tests) can pass nil.
type Proxy struct {
	RequestsTotal     *prometheus.CounterVec
	ResponsesTotal    *prometheus.CounterVec
	PoolCheckouts     *prometheus.CounterVec
	PoolMisses        *prometheus.CounterVec
	PoolChecked       *prometheus.CounterVec
	BodiesReframed    *prometheus.CounterVec
	FilterRejections  *prometheus.CounterVec
	UpstreamErrors    *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	ActiveConnections prometheus.Gauge
}

// New registers the proxy's metrics with reg and returns the bundle.
// Pass prometheus.DefaultRegisterer for the global registry.
func New(reg prometheus.Registerer) *Proxy {
	p := &Proxy{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pyrox_requests_total",
			Help: "Requests parsed from downstream, labeled by route.",
		}, []string{"route"}),
		ResponsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pyrox_responses_total",
			Help: "Response heads forwarded to downstream, labeled by status class.",
		}, []string{"status_class"}),
		PoolCheckouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pyrox_pool_checkouts_total",
			Help: "Upstream connections reused from the pool, labeled by route.",
		}, []string{"route"}),
		PoolMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pyrox_pool_misses_total",
			Help: "Upstream connections freshly dialed because the pool was empty, labeled by route.",
		}, []string{"route"}),
		PoolChecked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pyrox_pool_checkins_total",
			Help: "Upstream connections returned to the pool, labeled by route.",
		}, []string{"route"}),
		BodiesReframed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pyrox_bodies_reframed_total",
			Help: "Bodies rewritten from Content-Length to chunked due to a registered body filter.",
		}, []string{"direction"}),
		FilterRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pyrox_filter_rejections_total",
			Help: "Requests intercepted (REJECT/REPLY) by a filter, labeled by hook.",
		}, []string{"hook"}),
		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pyrox_upstream_errors_total",
			Help: "Upstream connect/IO errors, labeled by route.",
		}, []string{"route"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pyrox_request_duration_seconds",
			Help:    "Time from request head parsed to response fully written.",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pyrox_active_connections",
			Help: "Client connections currently being served.",
		}),
	}

	reg.MustRegister(
		p.RequestsTotal, p.ResponsesTotal,
		p.PoolCheckouts, p.PoolMisses, p.PoolChecked,
		p.BodiesReframed, p.FilterRejections, p.UpstreamErrors,
		p.RequestDuration, p.ActiveConnections,
	)
	return p
}

func (p *Proxy) IncRequest(route string) {
	if p == nil {
		return
	}
	p.RequestsTotal.WithLabelValues(route).Inc()
}

func (p *Proxy) IncResponse(statusClass string) {
	if p == nil {
		return
	}
	p.ResponsesTotal.WithLabelValues(statusClass).Inc()
}

func (p *Proxy) IncPoolCheckout(route string) {
	if p == nil {
		return
	}
	p.PoolCheckouts.WithLabelValues(route).Inc()
}

func (p *Proxy) IncPoolMiss(route string) {
	if p == nil {
		return
	}
	p.PoolMisses.WithLabelValues(route).Inc()
}

func (p *Proxy) IncPoolCheckin(route string) {
	if p == nil {
		return
	}
	p.PoolChecked.WithLabelValues(route).Inc()
}

func (p *Proxy) IncReframed(direction string) {
	if p == nil {
		return
	}
	p.BodiesReframed.WithLabelValues(direction).Inc()
}

func (p *Proxy) IncRejection(hook string) {
	if p == nil {
		return
	}
	p.FilterRejections.WithLabelValues(hook).Inc()
}

func (p *Proxy) IncUpstreamError(route string) {
	if p == nil {
		return
	}
	p.UpstreamErrors.WithLabelValues(route).Inc()
}

func (p *Proxy) ObserveDuration(seconds float64) {
	if p == nil {
		return
	}
	p.RequestDuration.Observe(seconds)
}

func (p *Proxy) ConnOpened() {
	if p == nil {
		return
	}
	p.ActiveConnections.Inc()
}

func (p *Proxy) ConnClosed() {
	if p == nil {
		return
	}
	p.ActiveConnections.Dec()
}
