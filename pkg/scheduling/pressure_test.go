package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestRequest(t *testing.T, model string) *Request {
	t.Helper()
	return NewRequest(context.Background(), &model, nil, nil, nil)
}

func TestEntryScoreCountDominatesAge(t *testing.T) {
	e := newEntry("sdxl")
	now := time.Now()
	e.firstRequestTime = now.Add(-5 * time.Second)
	e.count = 3

	require.Equal(t, 35, e.scoreLocked(now))
}

func TestEntryAddSetsFirstRequestTimeOnce(t *testing.T) {
	e := newEntry("sdxl")
	r1 := newTestRequest(t, "sdxl")
	r1.StartTime = time.Now().Add(-10 * time.Second)
	e.add(r1)

	r2 := newTestRequest(t, "sdxl")
	r2.StartTime = time.Now()
	e.add(r2)

	require.Equal(t, 2, e.count)
	require.Equal(t, r1.StartTime, e.firstRequestTimeNow())
}

func TestEntryAddIsIdempotentPerRequest(t *testing.T) {
	e := newEntry("sdxl")
	r := newTestRequest(t, "sdxl")
	e.add(r)
	e.add(r)
	require.Equal(t, 1, e.count)
}

func TestEntryRemoveDecrements(t *testing.T) {
	e := newEntry("sdxl")
	r1 := newTestRequest(t, "sdxl")
	r2 := newTestRequest(t, "sdxl")
	e.add(r1)
	e.add(r2)

	require.Equal(t, 1, e.remove(r1))
	require.Equal(t, 0, e.remove(r2))
}

func TestEntryTryBeginLoadingIsExclusive(t *testing.T) {
	e := newEntry("sdxl")
	require.True(t, e.tryBeginLoading())
	require.False(t, e.tryBeginLoading())

	e.endLoading()
	require.True(t, e.tryBeginLoading())
}

func TestEntryBadBackends(t *testing.T) {
	e := newEntry("sdxl")
	require.False(t, e.isBad(1))
	e.markBad(1)
	require.True(t, e.isBad(1))
	require.False(t, e.isBad(2))
}

func TestMapRegisterAndReleaseRemovesEmptyEntry(t *testing.T) {
	m := NewMap()
	req := newTestRequest(t, "sdxl")

	e := m.registerRequest("sdxl", req)
	require.Len(t, m.snapshot(), 1)

	m.release(req, e)
	require.Len(t, m.snapshot(), 0)
}

func TestMapRegisterSharesEntryAcrossRequests(t *testing.T) {
	m := NewMap()
	r1 := newTestRequest(t, "sdxl")
	r2 := newTestRequest(t, "sdxl")

	e1 := m.registerRequest("sdxl", r1)
	e2 := m.registerRequest("sdxl", r2)

	require.Same(t, e1, e2)
	require.Len(t, m.snapshot(), 1)
}

func TestMapClearRemovesEntryRegardlessOfCount(t *testing.T) {
	m := NewMap()
	req := newTestRequest(t, "sdxl")
	e := m.registerRequest("sdxl", req)

	m.clear(e)
	require.Len(t, m.snapshot(), 0)
}
