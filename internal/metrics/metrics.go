// Package metrics exposes the gateway's operational counters and gauges
// as Prometheus collectors via client_golang.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every collector the gateway records against, one
// instance per process, labeled per-chain where the signal differs by
// chain.
type Registry struct {
	BlocksProcessed  *prometheus.CounterVec
	PayoutsBroadcast *prometheus.CounterVec
	RetryCount       *prometheus.GaugeVec
	PendingSetSize   *prometheus.GaugeVec
	PaymentsMatched  *prometheus.CounterVec
}

func NewRegistry() *Registry {
	r := &Registry{
		BlocksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_blocks_processed_total",
			Help: "Confirmed blocks successfully processed, by chain.",
		}, []string{"chain"}),
		PayoutsBroadcast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_payouts_broadcast_total",
			Help: "Payouts and refunds broadcast, by chain and action.",
		}, []string{"chain", "action"}),
		RetryCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_poller_retry_count",
			Help: "Current consecutive-failure retry count for a poller.",
		}, []string{"chain", "poller"}),
		PendingSetSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_pending_set_size",
			Help: "Size of the in-memory seen-mempool-tx set, by chain.",
		}, []string{"chain"}),
		PaymentsMatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_payments_matched_total",
			Help: "Payments transitioned out of pending, by chain and resulting status.",
		}, []string{"chain", "status"}),
	}
	return r
}

// MustRegister registers every collector against reg, panicking on a
// duplicate registration (a programmer error, not a runtime condition).
func (r *Registry) MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(r.BlocksProcessed, r.PayoutsBroadcast, r.RetryCount, r.PendingSetSize, r.PaymentsMatched)
}

// Handler returns the HTTP handler the launcher mounts at /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
