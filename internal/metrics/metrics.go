// Package metrics provides Prometheus metrics for the relay and sync services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "onionmesh"

// Relay holds the Prometheus metrics exposed by the relay endpoint (C5, C10).
type Relay struct {
	RequestsTotal    *prometheus.CounterVec
	DecryptLatency   prometheus.Histogram
	ForwardLatency   prometheus.Histogram
	RateLimitDropped prometheus.Counter
}

// NewRelay creates the relay's metrics, registered against reg.
func NewRelay(reg prometheus.Registerer) *Relay {
	factory := promauto.With(reg)

	return &Relay{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total POST /hop requests by result.",
		}, []string{"result"}),
		DecryptLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decrypt_latency_seconds",
			Help:      "Time to peel one onion layer.",
			Buckets:   prometheus.DefBuckets,
		}),
		ForwardLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forward_latency_seconds",
			Help:      "Time to forward to the next hop or the terminal bridge.",
			Buckets:   prometheus.DefBuckets,
		}),
		RateLimitDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_dropped_total",
			Help:      "Requests rejected by the per-source rate limiter before decryption.",
		}),
	}
}

// Sync holds the Prometheus metrics exposed by the sync service (C6, C7).
type Sync struct {
	TopicsActive        prometheus.Gauge
	AppendsTotal         prometheus.Counter
	SubscribersActive    prometheus.Gauge
	EvictionsTotal       prometheus.Counter
	SubscriberDropsTotal prometheus.Counter
}

// NewSync creates the sync service's metrics, registered against reg.
func NewSync(reg prometheus.Registerer) *Sync {
	factory := promauto.With(reg)

	return &Sync{
		TopicsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "topics_active",
			Help:      "Number of topic logs currently instantiated.",
		}),
		AppendsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appends_total",
			Help:      "Total ops appended across all topics.",
		}),
		SubscribersActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers_active",
			Help:      "Number of live topic subscribers.",
		}),
		EvictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Total entries evicted from topic retention windows.",
		}),
		SubscriberDropsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_drops_total",
			Help:      "Total subscribers dropped for failing to keep up with live appends.",
		}),
	}
}
