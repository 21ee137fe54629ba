package config

import "sync"

// Store guards the live configuration. The settings endpoint replaces it at
// runtime and persists it back to the file it was loaded from.
type Store struct {
	mu   sync.Mutex
	path string
	cfg  Config
}

func NewStore(path string, cfg Config) *Store {
	return &Store{path: path, cfg: cfg}
}

func (s *Store) Current() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Update swaps the live configuration and writes it to disk. The in-memory
// copy only changes when the write succeeds.
func (s *Store) Update(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := cfg.Save(s.path); err != nil {
		return err
	}
	s.cfg = cfg
	return nil
}
