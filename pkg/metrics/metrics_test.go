package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSetBackendUsagesExposesGauge(t *testing.T) {
	r := NewRecorder()
	r.SetBackendUsages(3, "process", 2)

	value := testutil.ToFloat64(r.backendUsages.WithLabelValues("3", "process"))
	require.Equal(t, 2.0, value)
}

func TestSetBackendStatusZeroesInactiveStatuses(t *testing.T) {
	r := NewRecorder()
	statuses := []string{"WAITING", "RUNNING", "ERRORED"}
	r.SetBackendStatus(1, "process", statuses, "RUNNING")

	require.Equal(t, 0.0, testutil.ToFloat64(r.backendStatus.WithLabelValues("1", "process", "WAITING")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.backendStatus.WithLabelValues("1", "process", "RUNNING")))
	require.Equal(t, 0.0, testutil.ToFloat64(r.backendStatus.WithLabelValues("1", "process", "ERRORED")))
}

func TestRemovePressureDeletesGauge(t *testing.T) {
	r := NewRecorder()
	r.SetPressureScore("sdxl", 42)
	require.Equal(t, 42.0, testutil.ToFloat64(r.pressureScore.WithLabelValues("sdxl")))

	r.RemovePressure("sdxl")
	require.Equal(t, 0.0, testutil.ToFloat64(r.pressureScore.WithLabelValues("sdxl")))
}
