package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dockermodel/backendpool/pkg/inference"
	"github.com/dockermodel/backendpool/pkg/logging"
	"github.com/dockermodel/backendpool/pkg/metrics"
	"github.com/dockermodel/backendpool/pkg/registry"
	"github.com/dockermodel/backendpool/pkg/scheduling"
	"github.com/stretchr/testify/require"
)

// gaugeValue returns a sample's value for a metric family with the given
// label, or (0, false) if no such sample is currently published.
func gaugeValue(recorder *metrics.Recorder, family, labelName, labelValue string) (float64, bool) {
	families, err := recorder.Registry().Gather()
	if err != nil {
		return 0, false
	}
	for _, f := range families {
		if f.GetName() != family {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == labelName && l.GetValue() == labelValue {
					return m.GetGauge().GetValue(), true
				}
			}
		}
	}
	return 0, false
}

type noopDriver struct{}

func (noopDriver) Init(ctx context.Context) error                            { return nil }
func (noopDriver) ShutdownNow()                                              {}
func (noopDriver) LoadModel(ctx context.Context, model string) (bool, error) { return true, nil }
func (noopDriver) GenerateLive(ctx context.Context, input any, batchID string, onEvent func(inference.Event)) error {
	return nil
}
func (noopDriver) CanLoadModels() bool        { return true }
func (noopDriver) Catalog() inference.Catalog { return nil }

func TestSampleMetricsPopulatesBackendAndPressureGauges(t *testing.T) {
	log := logging.NewDefault()
	types := map[string]*inference.Type{
		"fake": {
			ID: "fake",
			NewDriver: func(settingsRaw string) (inference.Driver, error) {
				return noopDriver{}, nil
			},
		},
	}
	reg := registry.New(log, types, nil)
	rec, err := reg.AddNonreal(context.Background(), "fake", "fake", "", true)
	require.NoError(t, err)
	rec.MarkRunning()

	initWorker := registry.NewInitWorker(log, reg, 1)
	scheduler := scheduling.NewScheduler(log, reg, initWorker, scheduling.Config{})
	recorder := metrics.NewRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sampleMetrics(ctx, reg, scheduler, recorder)

	var schedWG sync.WaitGroup
	schedWG.Add(1)
	go func() {
		defer schedWG.Done()
		scheduler.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		v, ok := gaugeValue(recorder, "backendpool_backend_status", "status", string(registry.StatusRunning))
		return ok && v == 1.0
	}, 3*time.Second, 20*time.Millisecond, "sampleMetrics should eventually publish the running backend's status gauge")

	wantedModel := "unloaded-model"
	go func() {
		_, _ = scheduler.GetNextBackend(ctx, 5*time.Second, &wantedModel, nil, nil, nil, nil)
	}()

	require.Eventually(t, func() bool {
		_, ok := gaugeValue(recorder, "backendpool_pressure_score", "model", wantedModel)
		return ok
	}, 3*time.Second, 20*time.Millisecond, "sampleMetrics should eventually publish a pressure score gauge for an unmet request")

	cancel()
	schedWG.Wait()
}
