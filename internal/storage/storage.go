package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/eugenenazirov/tapcfg/internal/configdict"
	"github.com/eugenenazirov/tapcfg/internal/tapnet"
)

// ErrNilConfig is returned when a nil record is stored.
var ErrNilConfig = errors.New("experiment config must not be nil")

// Storage provides access to the experiment record served to the harness.
type Storage interface {
	Get() (*configdict.ConfigDict, error)
	Replace(cfg *configdict.ConfigDict) error
	Update(fn func(*configdict.ConfigDict) error) error
}

// MemoryStorage keeps the experiment record in-memory and guards access with a RWMutex.
type MemoryStorage struct {
	mu      sync.RWMutex
	current *configdict.ConfigDict
}

// NewMemoryStorage initialises storage with a freshly built TapNet record.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		current: tapnet.Config(),
	}
}

// Get returns a deep copy of the stored record.
func (s *MemoryStorage) Get() (*configdict.ConfigDict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.current.Clone(), nil
}

// Replace validates cfg and stores a copy of it.
func (s *MemoryStorage) Replace(cfg *configdict.ConfigDict) error {
	if cfg == nil {
		return ErrNilConfig
	}
	next := cfg.Clone()
	if _, err := tapnet.Validate(next); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()

	return nil
}

// Update applies fn to a copy of the stored record and keeps the copy only
// when fn succeeds and the result still validates.
func (s *MemoryStorage) Update(fn func(*configdict.ConfigDict) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if _, err := tapnet.Validate(next); err != nil {
		return fmt.Errorf("update rejected: %w", err)
	}
	s.current = next
	return nil
}
