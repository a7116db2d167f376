package qredit

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus collectors for peer discovery and broadcast.
type Metrics struct {
	Registry *prometheus.Registry

	RefreshTotal     *prometheus.CounterVec
	SeedQueriesTotal *prometheus.CounterVec
	KnownPeers       prometheus.Gauge
	TrustedPeers     prometheus.Gauge

	BroadcastTotal    *prometheus.CounterVec
	SubmissionsTotal  *prometheus.CounterVec
	BroadcastDuration prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		Registry: registry,

		RefreshTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_refresh_total",
			Help:      "Peer directory refreshes by result",
		}, []string{"result"}),
		SeedQueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seed_queries_total",
			Help:      "Peer list queries sent to seed peers by result",
		}, []string{"result"}),
		KnownPeers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "known_peers",
			Help:      "Peers in the current directory snapshot",
		}),
		TrustedPeers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trusted_peers",
			Help:      "Trusted peers in the current directory snapshot",
		}),

		BroadcastTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_total",
			Help:      "Transaction broadcasts by outcome",
		}, []string{"result"}),
		SubmissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Single peer transaction submissions by result",
		}, []string{"result"}),
		BroadcastDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_duration_seconds",
			Help:      "Time taken to fan a transaction out to its peers",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
	}
}

// Handler serves the metrics in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
