package scheduling

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestCompleteIsOneShot(t *testing.T) {
	req := NewRequest(context.Background(), nil, nil, nil, nil)
	access := &BackendAccess{}
	req.complete(access, nil)

	select {
	case <-req.CompletionSignal():
	default:
		t.Fatal("completion signal should be closed")
	}

	req.complete(nil, errors.New("too late"))
	result, failure := req.Outcome()
	require.Same(t, access, result, "second complete call must not overwrite the first outcome")
	require.NoError(t, failure)
}

func TestRequestUseRedirectIsOneShot(t *testing.T) {
	req := NewRequest(context.Background(), nil, nil, nil, nil)
	require.True(t, req.UseRedirect())
	require.False(t, req.UseRedirect())
}

func TestRequestNotifyFireIsOneShot(t *testing.T) {
	req := NewRequest(context.Background(), nil, nil, nil, nil)
	require.True(t, req.notifyFire())
	require.False(t, req.notifyFire())
}

func TestRequestCancelClosesDone(t *testing.T) {
	req := NewRequest(context.Background(), nil, nil, nil, nil)
	req.Cancel()
	select {
	case <-req.Done():
	default:
		t.Fatal("Done channel should fire after Cancel")
	}
}
