package config

import (
	"fmt"
	"sync"
)

// ChangeFunc is notified after every successful update.
type ChangeFunc func(old, new Config)

// Store holds the live configuration. Reads return copies; writes are
// persisted to disk and then announced to every listener, in registration
// order, on the writer's goroutine.
type Store struct {
	mu        sync.RWMutex
	path      string
	cfg       Config
	listeners []ChangeFunc
}

// NewStore wraps cfg. An empty path keeps the store in memory only.
func NewStore(path string, cfg *Config) *Store {
	if cfg == nil {
		cfg = Defaults()
	}
	return &Store{path: path, cfg: cfg.Clone()}
}

// Get returns a snapshot of the current configuration.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Integration returns the current settings of one integration.
func (s *Store) Integration(name string) (IntegrationConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ic, ok := s.cfg.Integrations[name]
	return ic, ok
}

// RootDatabasePath resolves the legacy database holding inspection results.
func (s *Store) RootDatabasePath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Legacy.RootPath
}

// AppDatabasePath resolves the legacy database holding device reference data.
func (s *Store) AppDatabasePath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Legacy.AppPath
}

// OnChange registers fn for every later update.
func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Update applies fn to a copy of the configuration, saves it and returns the
// full new configuration.
func (s *Store) Update(fn func(*Config)) (Config, error) {
	s.mu.Lock()
	old := s.cfg.Clone()
	next := s.cfg.Clone()
	fn(&next)
	applyDefaults(&next)

	if s.path != "" {
		if err := next.Save(s.path); err != nil {
			s.mu.Unlock()
			return old, fmt.Errorf("failed to save config to %s: %w", s.path, err)
		}
	}
	s.cfg = next
	listeners := make([]ChangeFunc, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	// Listeners run outside the lock so they may call Get.
	for _, l := range listeners {
		l(old, next.Clone())
	}
	return next.Clone(), nil
}

// UpdateIntegration replaces the settings of one integration.
func (s *Store) UpdateIntegration(name string, ic IntegrationConfig) (IntegrationConfig, error) {
	cfg, err := s.Update(func(c *Config) {
		c.Integrations[name] = ic
	})
	if err != nil {
		return IntegrationConfig{}, err
	}
	return cfg.Integrations[name], nil
}
