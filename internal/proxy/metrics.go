package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webproxy_requests_total",
		Help: "Proxy requests by method and outcome.",
	}, []string{"method", "outcome"})

	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webproxy_rejections_total",
		Help: "Requests rejected before fetching, by reason.",
	}, []string{"reason"})

	fallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webproxy_fallbacks_total",
		Help: "Synthetic substitute responses served, by kind.",
	}, []string{"kind"})

	upstreamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webproxy_upstream_duration_seconds",
		Help:    "Upstream fetch latency.",
		Buckets: prometheus.DefBuckets,
	})
)
