package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)

	m.ObserveCycle("trend", time.Millisecond, nil)
	m.ObserveCycle("trend", time.Millisecond, errors.New("boom"))
	m.ObserveTask("goal_task", "completed")
	m.ObserveDecision("content_creation", true, 0.2)
	m.SetRunning(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cycleIterations.WithLabelValues("trend")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycleFailures.WithLabelValues("trend")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasks.WithLabelValues("goal_task", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("content_creation", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.running))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveCycle("goal", time.Second, nil)
	m.ObserveTask("goal_task", "failed")
	m.ObserveDecision("engagement", false, 0)
	m.SetRunning(false)
}
