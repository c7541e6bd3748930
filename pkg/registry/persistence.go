package registry

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Entry is the persisted shape of one real backend record.
type Entry struct {
	Type        string `yaml:"type"`
	Title       string `yaml:"title"`
	Enabled     bool   `yaml:"enabled"`
	SettingsRaw string `yaml:"settings"`
}

// Store abstracts the persisted registry file so tests can substitute an
// in-memory implementation.
type Store interface {
	Load() (map[int]Entry, error)
	Save(entries map[int]Entry) error
	MaxInitAttempts() int
}

// FileStore persists the registry as a YAML document keyed by decimal
// backend id, matching the "keyed structured text file" described for the
// persisted registry file.
type FileStore struct {
	Path            string
	InitAttemptsMax int
}

// NewFileStore constructs a FileStore at path with the given bounded-retry
// limit for the Init Worker.
func NewFileStore(path string, maxInitAttempts int) *FileStore {
	if maxInitAttempts <= 0 {
		maxInitAttempts = 5
	}
	return &FileStore{Path: path, InitAttemptsMax: maxInitAttempts}
}

func (s *FileStore) MaxInitAttempts() int { return s.InitAttemptsMax }

// Load reads s.Path. A missing file is treated as an empty registry; a file
// present but unparsable is left untouched and also yields an empty
// registry (the caller logs the warning).
func (s *FileStore) Load() (map[int]Entry, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return map[int]Entry{}, nil
	}
	if err != nil {
		return nil, err
	}
	var entries map[int]Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = map[int]Entry{}
	}
	return entries, nil
}

// Save writes entries to s.Path, overwriting any previous content.
func (s *FileStore) Save(entries map[int]Entry) error {
	data, err := yaml.Marshal(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(s.Path, data, 0o644)
}
