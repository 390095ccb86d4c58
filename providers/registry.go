// Package providers provides a registry of backend factories so that backends
// can be created from configuration by type name.
package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/blueberrycongee/llmgov/pkg/provider"
	"github.com/blueberrycongee/llmgov/providers/mock"
)

var (
	registry     = make(map[string]provider.Factory)
	registryOnce sync.Once
	registryMu   sync.RWMutex
)

// Register registers a provider factory with the given type name.
func Register(providerType string, factory provider.Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[providerType] = factory
}

// Get returns the factory for the given provider type.
func Get(providerType string) (provider.Factory, bool) {
	RegisterBuiltins()
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[providerType]
	return f, ok
}

// Create creates a provider instance from configuration.
func Create(cfg provider.Config) (provider.Provider, error) {
	RegisterBuiltins()
	registryMu.RLock()
	factory, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s (available: %v)", cfg.Type, List())
	}

	return factory(cfg)
}

// List returns all registered provider type names, sorted.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterBuiltins registers the built-in simulated backends.
// "openai" and "anthropic" fill an unset id, model and latency from the matching
// mock identity. Unset prices are resolved later from the model price table.
func RegisterBuiltins() {
	registryOnce.Do(func() {
		Register("mock", mock.NewFromConfig)
		Register("openai", withDefaults(mock.OpenAIIdentity))
		Register("anthropic", withDefaults(mock.AnthropicIdentity))
	})
}

func withDefaults(def provider.Identity) provider.Factory {
	return func(cfg provider.Config) (provider.Provider, error) {
		if cfg.ID == "" {
			cfg.ID = def.ID
		}
		if cfg.Model == "" {
			cfg.Model = def.Model
		}
		if cfg.NominalLatency == 0 {
			cfg.NominalLatency = def.NominalLatency
		}
		return mock.NewFromConfig(cfg)
	}
}
