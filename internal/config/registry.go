package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voxline/pkg/provider/generate"
	"github.com/MrWong99/voxline/pkg/provider/synthesize"
	"github.com/MrWong99/voxline/pkg/provider/transcribe"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// pipeline stage. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	transcribe map[string]func(ProviderEntry) (transcribe.Provider, error)
	generate   map[string]func(ProviderEntry) (generate.Provider, error)
	synthesize map[string]func(ProviderEntry) (synthesize.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transcribe: make(map[string]func(ProviderEntry) (transcribe.Provider, error)),
		generate:   make(map[string]func(ProviderEntry) (generate.Provider, error)),
		synthesize: make(map[string]func(ProviderEntry) (synthesize.Provider, error)),
	}
}

// RegisterTranscribe registers a transcription provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTranscribe(name string, factory func(ProviderEntry) (transcribe.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcribe[name] = factory
}

// RegisterGenerate registers a generation provider factory under name.
func (r *Registry) RegisterGenerate(name string, factory func(ProviderEntry) (generate.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generate[name] = factory
}

// RegisterSynthesize registers a synthesis provider factory under name.
func (r *Registry) RegisterSynthesize(name string, factory func(ProviderEntry) (synthesize.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synthesize[name] = factory
}

// CreateTranscribe instantiates a transcription provider using the factory
// registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateTranscribe(entry ProviderEntry) (transcribe.Provider, error) {
	r.mu.RLock()
	factory, ok := r.transcribe[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcribe/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateGenerate instantiates a generation provider using the factory
// registered under entry.Name.
func (r *Registry) CreateGenerate(entry ProviderEntry) (generate.Provider, error) {
	r.mu.RLock()
	factory, ok := r.generate[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: generate/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSynthesize instantiates a synthesis provider using the factory
// registered under entry.Name.
func (r *Registry) CreateSynthesize(entry ProviderEntry) (synthesize.Provider, error) {
	r.mu.RLock()
	factory, ok := r.synthesize[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: synthesize/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
