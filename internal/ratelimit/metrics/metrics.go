package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	BudgetWaitsTotal    prometheus.Counter
	BudgetWaitSeconds   prometheus.Histogram
	BudgetStoreErrors   prometheus.Counter
	BudgetDegradedGauge prometheus.Gauge
}

// New registers the request budget metrics on reg. A nil reg uses a private
// registry so repeated construction in tests never collides.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		BudgetWaitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fecsync_ratelimit_budget_waits_total",
			Help: "Total number of times a caller waited for the upstream request budget",
		}),
		BudgetWaitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fecsync_ratelimit_budget_wait_seconds",
			Help:    "Time spent waiting for the upstream request window to free a slot",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60},
		}),
		BudgetStoreErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "fecsync_ratelimit_store_errors_total",
			Help: "Total number of shared budget store errors",
		}),
		BudgetDegradedGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fecsync_ratelimit_degraded",
			Help: "1 while the budget runs on the in-process fallback store",
		}),
	}
}

func (m *Metrics) ObserveWait(seconds float64) {
	m.BudgetWaitsTotal.Inc()
	m.BudgetWaitSeconds.Observe(seconds)
}

func (m *Metrics) IncrementStoreErrors() {
	m.BudgetStoreErrors.Inc()
}

func (m *Metrics) SetDegraded(degraded bool) {
	if degraded {
		m.BudgetDegradedGauge.Set(1)
		return
	}
	m.BudgetDegradedGauge.Set(0)
}
