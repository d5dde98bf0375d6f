// Package registry provides provider factory registration and lookup.
//
// Each provider package exposes an explicit registration function that
// calls RegisterFactory; cmd/workspace (or tests) wires these up so there
// are no init() side effects.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/agenticlabs/workspace/internal/domain"
)

// Config carries what a factory needs to build a provider instance.
type Config struct {
	// Provider is the configured identifier (openai, groq, ...). Several
	// identifiers can map to one factory; the factory uses this to pick
	// base URL and default model.
	Provider string
	APIKey   string
	// BaseURL overrides the identifier's default endpoint. Used by tests.
	BaseURL string
}

// Factory defines how to create a provider for a set of identifiers.
type Factory struct {
	// Identifiers this factory serves (e.g. openai, groq, openrouter).
	Identifiers []string

	// Description is a human-readable summary of the backend.
	Description string

	// Create instantiates a provider from configuration.
	Create func(cfg Config) (domain.Provider, error)
}

var (
	factoryMu  sync.RWMutex
	factoryMap = make(map[string]Factory)
)

// RegisterFactory registers a factory for each of its identifiers.
// Panics on duplicate registration; registration happens once at startup.
func RegisterFactory(f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if len(f.Identifiers) == 0 {
		panic("provider factory must declare at least one identifier")
	}
	if f.Create == nil {
		panic(fmt.Sprintf("provider factory %v must have a Create function", f.Identifiers))
	}
	for _, id := range f.Identifiers {
		if _, exists := factoryMap[id]; exists {
			panic(fmt.Sprintf("provider factory %q already registered", id))
		}
		factoryMap[id] = f
	}
}

// GetFactory returns the factory for a provider identifier, if registered.
func GetFactory(identifier string) (Factory, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	f, ok := factoryMap[identifier]
	return f, ok
}

// ListIdentifiers returns all registered provider identifiers, sorted.
func ListIdentifiers() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	ids := make([]string, 0, len(factoryMap))
	for id := range factoryMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsRegistered returns true if a provider identifier is registered.
func IsRegistered(identifier string) bool {
	_, ok := GetFactory(identifier)
	return ok
}

// CreateFromFactory creates a provider using the registered factory.
func CreateFromFactory(cfg Config) (domain.Provider, error) {
	f, ok := GetFactory(cfg.Provider)
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s (registered: %v)", cfg.Provider, ListIdentifiers())
	}
	return f.Create(cfg)
}

// ClearFactories removes all registered factories (for testing only).
func ClearFactories() {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	factoryMap = make(map[string]Factory)
}
