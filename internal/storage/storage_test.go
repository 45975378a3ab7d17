package storage

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/eugenenazirov/tapcfg/internal/configdict"
	"github.com/eugenenazirov/tapcfg/internal/tapnet"
)

func TestNewMemoryStorageReturnsDefaultConfig(t *testing.T) {
	t.Parallel()

	store := NewMemoryStorage()

	got, err := store.Get()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(tapnet.Config()) {
		t.Fatalf("expected default TapNet config")
	}

	// ensure mutation safety
	if err := got.Set("training_steps", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	again, err := store.Get()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if steps, _ := again.Int("training_steps"); steps != 500000 {
		t.Fatalf("expected defensive copy, got training_steps=%d", steps)
	}
}

func TestReplaceStoresCopy(t *testing.T) {
	t.Parallel()

	cfg := tapnet.Config()
	if err := cfg.Set("evaluate_every", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	store := NewMemoryStorage()
	if err := store.Replace(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cfg.Set("evaluate_every", 20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := store.Get()
	if v, _ := got.Int("evaluate_every"); v != 10 {
		t.Fatalf("expected stored value 10, got %d", v)
	}
}

func TestReplaceRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	store := NewMemoryStorage()
	if err := store.Replace(nil); !errors.Is(err, ErrNilConfig) {
		t.Fatalf("expected ErrNilConfig, got %v", err)
	}

	cfg := tapnet.Config()
	if err := cfg.Set("eval_modes", configdict.Strings("kubric")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Replace(cfg); !errors.Is(err, tapnet.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestUpdateIsAllOrNothing(t *testing.T) {
	t.Parallel()

	store := NewMemoryStorage()

	err := store.Update(func(cfg *configdict.ConfigDict) error {
		if err := cfg.Set("evaluate_every", 5); err != nil {
			return err
		}
		return cfg.Set("not_a_key", 1)
	})
	if !errors.Is(err, configdict.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	err = store.Update(func(cfg *configdict.ConfigDict) error {
		return cfg.Set("experiment_kwargs.config.optimizer.optimizer", "rmsprop")
	})
	if !errors.Is(err, tapnet.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}

	got, _ := store.Get()
	if v, _ := got.Int("evaluate_every"); v != 1000 {
		t.Fatalf("expected failed update to leave state untouched, got %d", v)
	}
	if v, _ := got.String("experiment_kwargs.config.optimizer.optimizer"); v != "adam" {
		t.Fatalf("expected failed update to leave state untouched, got %s", v)
	}

	if err := store.Update(func(cfg *configdict.ConfigDict) error {
		return cfg.Set("evaluate_every", 5)
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ = store.Get()
	if v, _ := got.Int("evaluate_every"); v != 5 {
		t.Fatalf("expected update to apply, got %d", v)
	}
}

func TestMemoryStorageConcurrentAccess(t *testing.T) {
	store := NewMemoryStorage()
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(2)

		go func(offset int) {
			defer wg.Done()
			err := store.Update(func(cfg *configdict.ConfigDict) error {
				return cfg.SetFromString("evaluate_every", fmt.Sprint(100+offset))
			})
			if err != nil {
				t.Errorf("Update failed: %v", err)
			}
		}(i)

		go func() {
			defer wg.Done()
			if _, err := store.Get(); err != nil {
				t.Errorf("Get failed: %v", err)
			}
		}()
	}

	wg.Wait()

	// final read should succeed
	if _, err := store.Get(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
