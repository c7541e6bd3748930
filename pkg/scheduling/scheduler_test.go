package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/dockermodel/backendpool/pkg/inference"
	"github.com/dockermodel/backendpool/pkg/logging"
	"github.com/dockermodel/backendpool/pkg/registry"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	canLoad bool
	loaded  []string
}

func (d *fakeDriver) Init(ctx context.Context) error { return nil }
func (d *fakeDriver) ShutdownNow()                    {}
func (d *fakeDriver) LoadModel(ctx context.Context, model string) (bool, error) {
	d.loaded = append(d.loaded, model)
	return true, nil
}
func (d *fakeDriver) GenerateLive(ctx context.Context, input any, batchID string, onEvent func(inference.Event)) error {
	return nil
}
func (d *fakeDriver) CanLoadModels() bool        { return d.canLoad }
func (d *fakeDriver) Catalog() inference.Catalog { return nil }

func fakeType(canLoad bool) *inference.Type {
	return &inference.Type{
		ID:       "fake",
		FastLoad: false,
		NewDriver: func(settingsRaw string) (inference.Driver, error) {
			return &fakeDriver{canLoad: canLoad}, nil
		},
	}
}

func newTestRegistry(canLoad bool) *registry.Registry {
	log := logging.NewDefault()
	types := map[string]*inference.Type{"fake": fakeType(canLoad)}
	return registry.New(log, types, nil)
}

func runningRecord(t *testing.T, reg *registry.Registry, model *string) *registry.Record {
	t.Helper()
	rec, err := reg.AddNonreal(context.Background(), "fake", "fake", "", true)
	require.NoError(t, err)
	rec.MarkRunning()
	if model != nil {
		rec.SetReserveModelLoad(true)
		require.True(t, rec.SetCurrentModelName(model))
		rec.SetReserveModelLoad(false)
	}
	return rec
}

func newTestScheduler(t *testing.T, reg *registry.Registry) *Scheduler {
	t.Helper()
	log := logging.NewDefault()
	initWorker := registry.NewInitWorker(log, reg, 1)
	return NewScheduler(log, reg, initWorker, Config{
		PerRequestTimeout: time.Second,
		MaxStagnation:     time.Minute,
	})
}

func TestTryFindAcquiresModellessRequestImmediately(t *testing.T) {
	reg := newTestRegistry(false)
	rec := runningRecord(t, reg, nil)

	s := newTestScheduler(t, reg)
	all, err := reg.All(context.Background())
	require.NoError(t, err)

	req := NewRequest(context.Background(), nil, nil, nil, nil)
	available, completed := s.tryFind(req, all)
	require.True(t, completed)
	require.Len(t, available, 1)

	result, failure := req.Outcome()
	require.NoError(t, failure)
	require.NotNil(t, result)
	require.Equal(t, rec, result.Record())
}

func TestTryFindNoBackendsAvailableWhenEmpty(t *testing.T) {
	reg := newTestRegistry(false)
	s := newTestScheduler(t, reg)

	req := NewRequest(context.Background(), nil, nil, nil, nil)
	_, completed := s.tryFind(req, nil)
	require.True(t, completed)

	_, failure := req.Outcome()
	require.ErrorIs(t, failure, ErrNoBackendsAvailable)
}

func TestTryFindRegistersPressureWhenModelUnavailable(t *testing.T) {
	reg := newTestRegistry(true)
	runningRecord(t, reg, nil)

	s := newTestScheduler(t, reg)
	all, err := reg.All(context.Background())
	require.NoError(t, err)

	model := "sdxl"
	req := NewRequest(context.Background(), &model, nil, nil, nil)
	available, completed := s.tryFind(req, all)
	require.False(t, completed)
	require.Len(t, available, 1)
	require.NotNil(t, req.pressureRef)
	require.Equal(t, "sdxl", req.pressureRef.Model)
}

func TestTryFindMatchesResidentModel(t *testing.T) {
	reg := newTestRegistry(true)
	model := "sdxl"
	rec := runningRecord(t, reg, &model)

	s := newTestScheduler(t, reg)
	all, err := reg.All(context.Background())
	require.NoError(t, err)

	req := NewRequest(context.Background(), &model, nil, nil, nil)
	_, completed := s.tryFind(req, all)
	require.True(t, completed)

	result, failure := req.Outcome()
	require.NoError(t, failure)
	require.Equal(t, rec, result.Record())
}

func TestLoadHighestPressureChoosesZeroUsageLoader(t *testing.T) {
	reg := newTestRegistry(true)
	rec := runningRecord(t, reg, nil)

	s := newTestScheduler(t, reg)
	model := "sdxl"
	req := NewRequest(context.Background(), &model, nil, nil, nil)
	req.StartTime = time.Now().Add(-2 * time.Second)
	req.pressureRef = s.pressure.registerRequest(model, req)
	req.pressureRef.firstRequestTime = req.StartTime

	s.loadHighestPressure(context.Background(), []*registry.Record{rec})
	require.True(t, rec.ReserveModelLoad(), "chosen backend should be reserved for the imminent load")

	require.Eventually(t, func() bool {
		cur := rec.CurrentModelName()
		return cur != nil && *cur == model
	}, time.Second, 10*time.Millisecond)
}

func TestLoadHighestPressureBreaksTiesByLRUAmongIdleLoaders(t *testing.T) {
	reg := newTestRegistry(true)
	recNewlyReleased := runningRecord(t, reg, nil)
	recLRU := runningRecord(t, reg, nil)

	// Both backends are idle (usages = 0), but recNewlyReleased was
	// released more recently, so recLRU (the older timeLastRelease) must
	// be the one chosen for the load.
	require.True(t, recLRU.TryAcquire())
	recLRU.Release()

	require.True(t, recNewlyReleased.TryAcquire())
	recNewlyReleased.Release()

	require.True(t, recLRU.TimeLastRelease().Before(recNewlyReleased.TimeLastRelease()))

	s := newTestScheduler(t, reg)
	model := "sdxl"
	req := NewRequest(context.Background(), &model, nil, nil, nil)
	req.StartTime = time.Now().Add(-2 * time.Second)
	req.pressureRef = s.pressure.registerRequest(model, req)
	req.pressureRef.firstRequestTime = req.StartTime

	s.loadHighestPressure(context.Background(), []*registry.Record{recNewlyReleased, recLRU})

	require.True(t, recLRU.ReserveModelLoad(), "the backend with the oldest timeLastRelease must be chosen, not iteration order")
	require.False(t, recNewlyReleased.ReserveModelLoad())
}
