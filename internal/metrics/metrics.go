// Package metrics exposes the process's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the service registers. Constructed
// once in main and passed to the components that record into it.
type Metrics struct {
	registry *prometheus.Registry

	QuotesTotal        *prometheus.CounterVec
	SettlementsTotal   *prometheus.CounterVec
	SettlementDuration prometheus.Histogram
	InflightGauge      prometheus.Gauge
	CommissionsPaid    prometheus.Counter
	LedgerWriteFailed  prometheus.Counter
	GraduationsTotal   prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		QuotesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "launchpad_quotes_total",
			Help: "Quote requests by direction and result.",
		}, []string{"direction", "result"}),
		SettlementsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "launchpad_settlements_total",
			Help: "Settlement attempts by terminal state.",
		}, []string{"state"}),
		SettlementDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "launchpad_settlement_duration_seconds",
			Help:    "Wall time from submission to terminal state.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		InflightGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "launchpad_settlements_inflight",
			Help: "Settlements currently between BUILT and a terminal state.",
		}),
		CommissionsPaid: factory.NewCounter(prometheus.CounterOpts{
			Name: "launchpad_commissions_paid_units_total",
			Help: "Referral commissions credited, in smallest currency units.",
		}),
		LedgerWriteFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "launchpad_ledger_write_failures_total",
			Help: "Trade history appends that failed and were only logged.",
		}),
		GraduationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "launchpad_graduations_total",
			Help: "Instruments that crossed the graduation threshold.",
		}),
	}
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
