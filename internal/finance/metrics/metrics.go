// Package metrics holds the Prometheus instruments of the finance pipeline.
// All methods are safe on a nil *Metrics so components can run without them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	PagesFetched        prometheus.Counter
	RecordsSeen         prometheus.Counter
	RecordsKept         prometheus.Counter
	Throttled           prometheus.Counter
	Retries             *prometheus.CounterVec
	CommitteesAbandoned prometheus.Counter
	DonorsWritten       prometheus.Counter
	SyncDuration        *prometheus.HistogramVec
	SyncOutcomes        *prometheus.CounterVec
	CrosswalkLookups    *prometheus.CounterVec
	Resolutions         *prometheus.CounterVec
	EventsPublished     *prometheus.CounterVec
}

// New registers the pipeline metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PagesFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "fecsync_fetch_pages_total",
			Help: "Total number of receipt pages fetched",
		}),
		RecordsSeen: factory.NewCounter(prometheus.CounterOpts{
			Name: "fecsync_fetch_records_seen_total",
			Help: "Total number of receipt records returned by the upstream API",
		}),
		RecordsKept: factory.NewCounter(prometheus.CounterOpts{
			Name: "fecsync_fetch_records_kept_total",
			Help: "Total number of receipt records kept after classification",
		}),
		Throttled: factory.NewCounter(prometheus.CounterOpts{
			Name: "fecsync_fetch_throttled_total",
			Help: "Total number of throttled upstream responses",
		}),
		Retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fecsync_fetch_retries_total",
			Help: "Total number of page retries by failure category",
		}, []string{"category"}),
		CommitteesAbandoned: factory.NewCounter(prometheus.CounterOpts{
			Name: "fecsync_fetch_committees_abandoned_total",
			Help: "Total number of committees abandoned for a pass after exhausting retries or bad data",
		}),
		DonorsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "fecsync_donors_written_total",
			Help: "Total number of donor rows written by import passes",
		}),
		SyncDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fecsync_sync_duration_seconds",
			Help:    "Duration of sync operations",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900, 1800},
		}, []string{"kind"}),
		SyncOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fecsync_sync_outcomes_total",
			Help: "Total number of sync operations by kind and final state",
		}, []string{"kind", "state"}),
		CrosswalkLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fecsync_crosswalk_lookups_total",
			Help: "Total number of crosswalk lookups by result",
		}, []string{"result"}),
		Resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fecsync_identity_resolutions_total",
			Help: "Total number of identity resolutions by method and outcome",
		}, []string{"method", "outcome"}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fecsync_events_published_total",
			Help: "Total number of sync events produced by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) ObservePage(seen, kept int) {
	if m == nil {
		return
	}
	m.PagesFetched.Inc()
	m.RecordsSeen.Add(float64(seen))
	m.RecordsKept.Add(float64(kept))
}

func (m *Metrics) IncrementThrottled() {
	if m == nil {
		return
	}
	m.Throttled.Inc()
}

func (m *Metrics) IncrementRetry(category string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(category).Inc()
}

func (m *Metrics) IncrementAbandoned() {
	if m == nil {
		return
	}
	m.CommitteesAbandoned.Inc()
}

func (m *Metrics) AddDonorsWritten(n int) {
	if m == nil {
		return
	}
	m.DonorsWritten.Add(float64(n))
}

func (m *Metrics) ObserveSync(kind, state string, d time.Duration) {
	if m == nil {
		return
	}
	m.SyncDuration.WithLabelValues(kind).Observe(d.Seconds())
	m.SyncOutcomes.WithLabelValues(kind, state).Inc()
}

func (m *Metrics) IncrementCrosswalk(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CrosswalkLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementResolution(method, outcome string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) IncrementEvents(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.EventsPublished.WithLabelValues(result).Inc()
}
