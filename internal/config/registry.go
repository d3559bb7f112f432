package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// SourceFactory opens an audio source for the configured format and device.
type SourceFactory func(AudioConfig) (audio.Source, error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	transcriber map[string]func(ProviderEntry) (stt.Transcriber, error)
	vad         map[string]func(ProviderEntry) (vad.Engine, error)
	audio       map[string]SourceFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transcriber: make(map[string]func(ProviderEntry) (stt.Transcriber, error)),
		vad:         make(map[string]func(ProviderEntry) (vad.Engine, error)),
		audio:       make(map[string]SourceFactory),
	}
}

// RegisterTranscriber registers a transcriber factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTranscriber(name string, factory func(ProviderEntry) (stt.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcriber[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterSource registers an audio source factory under name.
func (r *Registry) RegisterSource(name string, factory SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateTranscriber instantiates a transcriber using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateTranscriber(entry ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.transcriber[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcriber/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSource opens the audio source named by cfg.Source.
func (r *Registry) CreateSource(cfg AudioConfig) (audio.Source, error) {
	r.mu.RLock()
	factory, ok := r.audio[cfg.Source]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, cfg.Source)
	}
	return factory(cfg)
}

// Transcribers returns the sorted names of all registered transcribers.
func (r *Registry) Transcribers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.transcriber))
	for name := range r.transcriber {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
