package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestNewMetrics_RegistersAndRecordsWithoutPanicking(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	assert.NotPanics(t, func() {
		m.ObserveQuoteDuration(10 * time.Millisecond)
		m.ObserveSearchDuration(5 * time.Millisecond)
		m.ObserveSearchIterations(42)
		m.ObservePathsFound(3)
		m.IncBudgetExceeded()
		m.ObserveSplitIterations(12)
		m.IncDustDropped()
		m.RecordEventProcessed("pool_created")
		m.RecordCacheInvalidation()
		m.IncCacheHit()
		m.IncCacheMiss()
	})

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}
