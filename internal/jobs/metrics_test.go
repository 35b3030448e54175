package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("approval:notify").End(nil))
	failure := errors.New("boom")
	require.ErrorIs(t, m.Track("approval:notify").End(failure), failure)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("approval:notify", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("approval:notify", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("approval:notify")))
}

func TestCountersIgnoreEmptyInput(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddDelivered("bills", true, 0)
	m.AddDelivered("bills", true, 2)
	m.AddDrift(0)
	m.AddDrift(3)

	require.Equal(t, 2.0, testutil.ToFloat64(m.delivered.WithLabelValues("bills", "final")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.drift))

	var nilMetrics *Metrics
	nilMetrics.AddDrift(1)
	require.NoError(t, nilMetrics.Track("x").End(nil))
}
