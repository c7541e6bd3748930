package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestNewRecordStatusFollowsEnabled(t *testing.T) {
	enabled := NewRecord(1, nil, "a", "", true)
	require.Equal(t, StatusWaiting, enabled.Status())

	disabled := NewRecord(2, nil, "b", "", false)
	require.Equal(t, StatusDisabled, disabled.Status())
}

func TestTryAcquireRespectsMaxUsages(t *testing.T) {
	r := NewRecord(1, nil, "a", "", true)
	r.SetMaxUsages(2)
	r.MarkRunning()

	require.True(t, r.TryAcquire())
	require.True(t, r.TryAcquire())
	require.False(t, r.TryAcquire())
	require.Equal(t, 2, r.Usages())
}

func TestTryAcquireFailsDuringReserveModelLoad(t *testing.T) {
	r := NewRecord(1, nil, "a", "", true)
	r.MarkRunning()
	r.SetReserveModelLoad(true)

	require.False(t, r.TryAcquire())
}

func TestTryAcquireFailsWhenReservedOrNotRunning(t *testing.T) {
	r := NewRecord(1, nil, "a", "", true)
	require.False(t, r.TryAcquire(), "still WAITING")

	r.MarkRunning()
	r.SetReserved(true)
	require.False(t, r.TryAcquire())
}

func TestReleaseIsSafeAtZero(t *testing.T) {
	r := NewRecord(1, nil, "a", "", true)
	r.MarkRunning()
	require.True(t, r.TryAcquire())

	r.Release()
	require.Equal(t, 0, r.Usages())

	r.Release()
	require.Equal(t, 0, r.Usages())
}

func TestInUseRequiresRunning(t *testing.T) {
	r := NewRecord(1, nil, "a", "", true)
	r.SetMaxUsages(1)
	r.MarkRunning()
	require.True(t, r.TryAcquire())
	require.True(t, r.InUse())

	r.setStatus(StatusWaiting)
	require.False(t, r.InUse(), "not in use while not RUNNING even at maxUsages")
}

func TestInUseViaReserveModelLoad(t *testing.T) {
	r := NewRecord(1, nil, "a", "", true)
	r.MarkRunning()
	require.False(t, r.InUse())

	r.SetReserveModelLoad(true)
	require.True(t, r.InUse())
}

func TestSetCurrentModelNameRequiresReserveModelLoadAndZeroUsages(t *testing.T) {
	r := NewRecord(1, nil, "a", "", true)
	r.MarkRunning()

	model := "sdxl"
	require.False(t, r.SetCurrentModelName(&model), "must fail without reserveModelLoad")

	r.SetReserveModelLoad(true)
	require.False(t, r.TryAcquire(), "TryAcquire is blocked while reserveModelLoad is set")
	require.True(t, r.SetCurrentModelName(&model))
	require.Equal(t, &model, r.CurrentModelName())
}

func TestSetCurrentModelNameFailsWithOutstandingUsages(t *testing.T) {
	r := NewRecord(1, nil, "a", "", true)
	r.SetMaxUsages(2)
	r.MarkRunning()
	require.True(t, r.TryAcquire())

	r.SetReserveModelLoad(true)
	model := "sdxl"
	require.False(t, r.SetCurrentModelName(&model), "usages must be zero")
}

func TestEligibleRequiresEnabledUnreservedRunning(t *testing.T) {
	r := NewRecord(1, nil, "a", "", true)
	require.False(t, r.Eligible(), "still WAITING")

	r.MarkRunning()
	require.True(t, r.Eligible())

	r.SetReserved(true)
	require.False(t, r.Eligible())
}

func TestBeginInitIncrementsAttemptsAndSetsLoading(t *testing.T) {
	r := NewRecord(1, nil, "a", "", true)
	require.Equal(t, 1, r.BeginInit())
	require.Equal(t, 2, r.BeginInit())
	require.Equal(t, StatusLoading, r.Status())
}

func TestMarkErroredRecordsLastError(t *testing.T) {
	r := NewRecord(1, nil, "a", "", true)
	err := errBoom
	r.MarkErrored(err)
	require.Equal(t, StatusErrored, r.Status())
	require.ErrorIs(t, r.LastError(), errBoom)
}

func TestBumpIsMonotonic(t *testing.T) {
	r := NewRecord(1, nil, "a", "", true)
	require.Equal(t, 1, r.Bump())
	require.Equal(t, 2, r.Bump())
	require.Equal(t, 2, r.ModCount())
}
