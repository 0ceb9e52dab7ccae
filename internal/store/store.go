// Package store persists settings as a JSON file, the key-value service the
// rest of the program loads connection configuration from.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/qstation/qstation/internal/config"
	"github.com/qstation/qstation/internal/log"
)

const settingsFileName = "settings.json"

// Store reads and writes settings under a directory. Missing or partial
// files fall back to the built-in defaults field by field.
type Store struct {
	mu   sync.RWMutex
	path string
}

// New creates a store rooted at dir.
func New(dir string) *Store {
	return &Store{path: filepath.Join(dir, settingsFileName)}
}

// Load returns the persisted settings merged over the defaults. A missing
// file is not an error; a corrupt file is logged and defaults are returned.
func (s *Store) Load() config.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load()
}

func (s *Store) load() config.Settings {
	settings := config.Defaults()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error("store").Err(err).Msg("failed to load settings")
		}
		return settings
	}

	if err := json.Unmarshal(data, &settings); err != nil {
		log.Error("store").Err(err).Msg("failed to parse settings")
		return config.Defaults()
	}
	return settings
}

// Save writes the full settings to disk, creating the directory if needed.
func (s *Store) Save(settings config.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(settings)
}

func (s *Store) save(settings config.Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// Update applies a partial mutation. The lock is held across the whole
// read-modify-write so concurrent updates never lose each other's fields.
func (s *Store) Update(apply func(*config.Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := s.load()
	apply(&settings)
	return s.save(settings)
}

// Reset removes the persisted file and restores the defaults on disk.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reset settings: %w", err)
	}
	return s.save(config.Defaults())
}
