package pool

import (
	metrics2 "github.com/automaton-market/poolnode/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all pool-level metrics.
type Metrics struct {
	registry *metrics2.ComponentRegistry

	ChecksTotal      *prometheus.CounterVec
	PerformsTotal    *prometheus.CounterVec
	ItemsNeedingWork prometheus.Histogram
	GasUsed          prometheus.Counter
	CompensationPaid prometheus.Counter
	DebtOutstanding  prometheus.Gauge
	BalanceGauge     prometheus.Gauge
	ActiveBatches    prometheus.Gauge
	BillingActions   *prometheus.CounterVec
}

// NewMetrics creates pool metrics.
func NewMetrics() *Metrics {
	reg := metrics2.NewComponentRegistry("pool", "")

	return &Metrics{
		registry: reg,

		ChecksTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "checks_total",
			Help: "Total number of check invocations",
		}, []string{"result"}),

		PerformsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "performs_total",
			Help: "Total number of perform invocations",
		}, []string{"result"}),

		ItemsNeedingWork: reg.NewHistogram(prometheus.HistogramOpts{
			Name:    "items_needing_work",
			Help:    "Number of items needing execution per check",
			Buckets: metrics2.CountBuckets,
		}),

		GasUsed: reg.NewCounter(prometheus.CounterOpts{
			Name: "gas_used_total",
			Help: "Total execution units consumed by performs",
		}),

		CompensationPaid: reg.NewCounter(prometheus.CounterOpts{
			Name: "compensation_paid_total",
			Help: "Total compensation paid out from the pool balance",
		}),

		DebtOutstanding: reg.NewGauge(prometheus.GaugeOpts{
			Name: "debt_outstanding",
			Help: "Currently tracked gas debt",
		}),

		BalanceGauge: reg.NewGauge(prometheus.GaugeOpts{
			Name: "balance",
			Help: "Current pool balance",
		}),

		ActiveBatches: reg.NewGauge(prometheus.GaugeOpts{
			Name: "active_batches",
			Help: "Number of registered batches",
		}),

		BillingActions: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_actions_total",
			Help: "Billing maintenance actions by outcome",
		}, []string{"action"}),
	}
}

// Registry exposes the underlying component registry for HTTP serving.
func (m *Metrics) Registry() *metrics2.ComponentRegistry {
	return m.registry
}
