package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStoreLoadMissingFileIsEmpty(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "registry.yaml"), 0)
	entries, err := store.Load()
	require.NoError(t, err)
	require.Empty(t, entries)
	require.Equal(t, 5, store.MaxInitAttempts(), "non-positive attempts falls back to the default")
}

func TestFileStoreSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	store := NewFileStore(path, 3)

	entries := map[int]Entry{
		0: {Type: "process", Title: "gpu-0", Enabled: true, SettingsRaw: `{"command":"worker"}`},
		1: {Type: "process", Title: "gpu-1", Enabled: false},
	}
	require.NoError(t, store.Save(entries))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, entries, loaded)
}

func TestFileStoreLoadUnparsableFileReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid: yaml"), 0o644))

	store := NewFileStore(path, 1)
	_, err := store.Load()
	require.Error(t, err)
}
