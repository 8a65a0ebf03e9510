package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestTimerDurationGrowsMonotonically(t *testing.T) {
	timer := NewTimer()
	require.False(t, timer.start.IsZero())

	first := timer.Duration()
	time.Sleep(20 * time.Millisecond)
	second := timer.Duration()

	require.GreaterOrEqual(t, second, first)
	require.GreaterOrEqual(t, second, 20*time.Millisecond)
}

func TestTimerObserveDurationRecordsToHistogram(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wasmhost_test_duration_seconds",
		Help:    "test-only histogram",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDuration(histogram)

	metric := &dto.Metric{}
	require.NoError(t, histogram.Write(metric))
	require.EqualValues(t, 1, metric.GetHistogram().GetSampleCount())
}

func TestTimerObserveDurationVecRecordsUnderLabel(t *testing.T) {
	vec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wasmhost_test_duration_vec_seconds",
			Help:    "test-only histogram vec",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDurationVec(vec, "scale_component")

	metric := &dto.Metric{}
	require.NoError(t, vec.WithLabelValues("scale_component").(prometheus.Histogram).Write(metric))
	require.EqualValues(t, 1, metric.GetHistogram().GetSampleCount())
}

func TestIndependentTimersDoNotShareState(t *testing.T) {
	early := NewTimer()
	time.Sleep(20 * time.Millisecond)
	late := NewTimer()

	require.Greater(t, early.Duration(), late.Duration())
}
