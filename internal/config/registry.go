package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/navassist/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned when a configuration names a TTS
// backend no factory was registered for.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// TTSFactory builds a TTS backend from its configuration block.
type TTSFactory func(ProviderEntry) (tts.Provider, error)

// Registry maps TTS backend names to factories. It is safe for concurrent
// use.
type Registry struct {
	mu  sync.RWMutex
	tts map[string]TTSFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tts: make(map[string]TTSFactory)}
}

// RegisterTTS registers factory under name, replacing any earlier one.
func (r *Registry) RegisterTTS(name string, factory TTSFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateTTS builds the backend entry names.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	p, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create tts/%q: %w", entry.Name, err)
	}
	return p, nil
}

// CheckTTS reports every backend cfg selects that has no factory, so a bad
// fallback name fails at startup rather than on the first outage.
func (r *Registry) CheckTTS(cfg TTSConfig) error {
	var errs []error
	for _, name := range cfg.names() {
		r.mu.RLock()
		_, ok := r.tts[name]
		r.mu.RUnlock()
		if !ok {
			errs = append(errs, fmt.Errorf("%w: tts/%q (known: %v)", ErrProviderNotRegistered, name, r.TTSNames()))
		}
	}
	return errors.Join(errs...)
}

// TTSNames returns the registered names in sorted order.
func (r *Registry) TTSNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.tts))
}

// names lists the selected backends, primary first. An empty primary selects
// the console speaker and names nothing.
func (c TTSConfig) names() []string {
	if c.Name == "" {
		return nil
	}
	out := []string{c.Name}
	if c.Fallback != nil {
		out = append(out, c.Fallback.Name)
	}
	return out
}
