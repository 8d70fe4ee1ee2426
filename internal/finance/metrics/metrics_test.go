package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObservePage(100, 80)
	m.ObservePage(20, 20)
	m.IncrementThrottled()
	m.IncrementRetry("throttled")
	m.IncrementCrosswalk(true)
	m.IncrementCrosswalk(false)
	m.IncrementCrosswalk(true)
	m.ObserveSync("import", "complete", 2*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PagesFetched))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.RecordsSeen))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.RecordsKept))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Throttled))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Retries.WithLabelValues("throttled")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CrosswalkLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncOutcomes.WithLabelValues("import", "complete")))
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePage(1, 1)
		m.IncrementThrottled()
		m.IncrementRetry("transient")
		m.IncrementAbandoned()
		m.AddDonorsWritten(3)
		m.ObserveSync("batch", "complete", time.Second)
		m.IncrementCrosswalk(false)
		m.IncrementResolution("search", "applied")
		m.IncrementEvents(true)
	})
}
