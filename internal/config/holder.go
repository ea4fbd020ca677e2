package config

import "sync"

// Holder owns the live configuration of a running server. Readers take a
// value copy with Get; writers go through Set, which persists the change
// before applying it.
type Holder struct {
	backend ConfigBackend

	mu  sync.RWMutex
	cfg Config
}

// NewHolder wraps cfg and persists later changes to the platform backend.
func NewHolder(cfg Config) *Holder {
	return newHolderWith(cfg, newPlatformBackend())
}

// NewFileHolder wraps cfg and persists later changes to a JSON file at path
// instead of the platform backend.
func NewFileHolder(cfg Config, path string) *Holder {
	return newHolderWith(cfg, newFileBackend(path))
}

func newHolderWith(cfg Config, b ConfigBackend) *Holder {
	return &Holder{backend: b, cfg: cfg}
}

// Get returns a copy of the current configuration.
func (h *Holder) Get() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Set validates, persists and applies a single key.
func (h *Holder) Set(key, value string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	v, err := setWith(h.backend, key, value)
	if err != nil {
		return err
	}
	s, _ := lookupSpec(key)
	s.apply(&h.cfg, v)
	return nil
}

// Reset removes key from the backend and restores its built-in default.
func (h *Holder) Reset(key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	v, err := resetWith(h.backend, key)
	if err != nil {
		return err
	}
	s, _ := lookupSpec(key)
	s.apply(&h.cfg, v)
	return nil
}
