package process

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/dockermodel/backendpool/pkg/inference"
	"github.com/dockermodel/backendpool/pkg/logging"
	"github.com/stretchr/testify/require"
)

func startFakeWorker(t *testing.T, mux *http.ServeMux) string {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "worker.sock")
	ln, err := net.Listen("unix", sockPath)
	require.NoError(t, err)
	server := &http.Server{Handler: mux}
	go server.Serve(ln)
	t.Cleanup(func() { server.Close() })
	return sockPath
}

func TestLoadModelSucceedsOnOK(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/models/load", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "sdxl", body["model"])
		w.WriteHeader(http.StatusOK)
	})
	sockPath := startFakeWorker(t, mux)

	d := New(logging.NewDefault(), Config{SocketPath: sockPath})
	ok, err := d.LoadModel(context.Background(), "sdxl")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLoadModelFailsOnNonOK(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/models/load", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	sockPath := startFakeWorker(t, mux)

	d := New(logging.NewDefault(), Config{SocketPath: sockPath})
	ok, err := d.LoadModel(context.Background(), "sdxl")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGenerateLiveStreamsEventsUntilDone(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "batch-1", r.URL.Query().Get("batch"))
		enc := json.NewEncoder(w)
		require.NoError(t, enc.Encode(inference.Event{Progress: 50}))
		require.NoError(t, enc.Encode(inference.Event{Image: []byte("png-bytes"), Done: true}))
	})
	sockPath := startFakeWorker(t, mux)

	d := New(logging.NewDefault(), Config{SocketPath: sockPath})
	var events []inference.Event
	err := d.GenerateLive(context.Background(), map[string]any{"prompt": "a cat"}, "batch-1", func(ev inference.Event) {
		events = append(events, ev)
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, 50, events[0].Progress)
	require.True(t, events[1].Done)
}

func TestGenerateLiveServiceUnavailableRequestsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	sockPath := startFakeWorker(t, mux)

	d := New(logging.NewDefault(), Config{SocketPath: sockPath})
	err := d.GenerateLive(context.Background(), map[string]any{}, "batch-1", func(inference.Event) {})
	require.ErrorIs(t, err, inference.ErrPleaseRedirect)
}

func TestCatalogReturnsWhatWasFetched(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/models", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(inference.Catalog{inference.CategoryMain: {"sdxl"}})
	})
	sockPath := startFakeWorker(t, mux)

	d := New(logging.NewDefault(), Config{SocketPath: sockPath})
	catalog, err := d.fetchCatalog(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"sdxl"}, catalog[inference.CategoryMain])

	require.NoError(t, waitReadyOK(d))
}

func waitReadyOK(d *Driver) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return d.waitReady(ctx)
}
