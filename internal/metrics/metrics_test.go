package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"taskmgr/internal/domain"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Processed(domain.TaskAcknowledge, 3)
	m.Processed(domain.TaskAcknowledge, 0)
	m.Expired()
	m.Removed(4)
	m.LockContention()
	m.Cycle(7, 20*time.Millisecond)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.processed.WithLabelValues("acknowledge")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.expired))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.removed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lockContention))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.pending))

	n, err := testutil.GatherAndCount(reg)
	assert.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Processed(domain.TaskCloseProblem, 1)
		m.Expired()
		m.Removed(1)
		m.LockContention()
		m.Cycle(1, time.Second)
	})
}
