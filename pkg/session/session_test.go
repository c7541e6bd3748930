package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClaimExtendAndCompleteAdjustSessionCounters(t *testing.T) {
	s := New("sess-1")
	claim := s.Claim(1, 0, 0, 0)
	require.Equal(t, Counters{Waiting: 1}, s.Snapshot())

	claim.Extend(0, 1, 0, 0)
	require.Equal(t, Counters{Waiting: 1, LoadingModels: 1}, s.Snapshot())

	claim.Complete(1, 0, 0, 0)
	require.Equal(t, Counters{Waiting: 0, LoadingModels: 1}, s.Snapshot())

	claim.Dispose()
	require.Equal(t, Counters{}, s.Snapshot())
}

func TestClaimDisposeIsIdempotent(t *testing.T) {
	s := New("sess-1")
	claim := s.Claim(0, 0, 0, 1)

	claim.Dispose()
	require.Equal(t, Counters{}, s.Snapshot())

	claim.Dispose()
	require.Equal(t, Counters{}, s.Snapshot(), "second dispose must not double-subtract")
}

func TestClaimOperationsAfterDisposeAreNoops(t *testing.T) {
	s := New("sess-1")
	claim := s.Claim(1, 0, 0, 0)
	claim.Dispose()

	claim.Extend(1, 0, 0, 0)
	require.Equal(t, Counters{}, s.Snapshot(), "extend after dispose must not resurrect the claim")
}

func TestInterruptFiresOutstandingClaimsOnly(t *testing.T) {
	s := New("sess-1")
	oldClaim := s.Claim(1, 0, 0, 0)

	select {
	case <-oldClaim.Done():
		t.Fatal("claim should not be done before Interrupt")
	default:
	}

	s.Interrupt()

	select {
	case <-oldClaim.Done():
	default:
		t.Fatal("claim created before Interrupt should observe cancellation")
	}

	newClaim := s.Claim(0, 0, 0, 1)
	select {
	case <-newClaim.Done():
		t.Fatal("claim created after Interrupt should not be cancelled")
	default:
	}
}

func TestMultipleClaimsAccumulateIndependently(t *testing.T) {
	s := New("sess-1")
	a := s.Claim(1, 0, 0, 0)
	b := s.Claim(0, 0, 1, 0)

	require.Equal(t, Counters{Waiting: 1, WaitingBackends: 1}, s.Snapshot())

	a.Dispose()
	require.Equal(t, Counters{WaitingBackends: 1}, s.Snapshot())

	b.Dispose()
	require.Equal(t, Counters{}, s.Snapshot())
}
