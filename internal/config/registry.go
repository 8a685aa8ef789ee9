package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/readaloud/pkg/audio"
	"github.com/MrWong99/readaloud/pkg/synth"
)

// ErrEngineNotRegistered is returned by [Registry.CreateEngine] when no
// factory has been registered under the requested engine kind.
var ErrEngineNotRegistered = errors.New("config: engine not registered")

// EngineFactory builds a synthesis engine from the loaded configuration and
// the playback collaborator.
type EngineFactory func(cfg *Config, player audio.Player) (synth.Engine, error)

// Registry maps engine kinds to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	engines map[EngineKind]EngineFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[EngineKind]EngineFactory),
	}
}

// RegisterEngine registers an engine factory under kind.
// Subsequent calls with the same kind overwrite the previous registration.
func (r *Registry) RegisterEngine(kind EngineKind, factory EngineFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[kind] = factory
}

// CreateEngine instantiates the engine registered under kind.
// Returns [ErrEngineNotRegistered] if no factory has been registered for it.
func (r *Registry) CreateEngine(kind EngineKind, cfg *Config, player audio.Player) (synth.Engine, error) {
	r.mu.RLock()
	factory, ok := r.engines[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEngineNotRegistered, kind)
	}
	return factory(cfg, player)
}

// Kinds returns the registered engine kinds in unspecified order.
func (r *Registry) Kinds() []EngineKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]EngineKind, 0, len(r.engines))
	for k := range r.engines {
		kinds = append(kinds, k)
	}
	return kinds
}
