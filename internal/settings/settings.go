// Package settings holds the process-wide chat configuration: active
// provider, model, credentials, and mode flags. Mutations swap a whole
// immutable snapshot behind an atomic pointer, so an in-flight cycle that
// captured a snapshot at start is never affected by later changes.
package settings

import (
	"fmt"
	"sync/atomic"
)

// Providers recognized by the set_provider command.
var knownProviders = map[string]struct{}{
	"openai":     {},
	"anthropic":  {},
	"gemini":     {},
	"groq":       {},
	"grok":       {},
	"openrouter": {},
	"perplexity": {},
}

// Snapshot is one immutable view of the effective settings. Cycles capture
// a snapshot at invocation time and never re-read live state.
type Snapshot struct {
	Provider   string
	Model      string // empty means the provider default
	MultiAgent bool
	Retrieval  bool
	keys       map[string]string
}

// APIKey returns the credential for a provider, or "" when unset.
func (s *Snapshot) APIKey(provider string) string {
	return s.keys[provider]
}

// Store owns the current snapshot. All Set* methods are cheap copy-and-swap;
// they are safe to call from any goroutine, though in practice only the UI
// command dispatch path mutates.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// New creates a settings store seeded with initial values. The keys map is
// copied.
func New(provider, model string, multiAgent, retrieval bool, keys map[string]string) *Store {
	s := &Store{}
	s.current.Store(&Snapshot{
		Provider:   provider,
		Model:      model,
		MultiAgent: multiAgent,
		Retrieval:  retrieval,
		keys:       copyKeys(keys),
	})
	return s
}

// Current returns the effective snapshot.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// SetAPIKey stores a credential for a provider and returns the
// confirmation text shown in the UI.
func (s *Store) SetAPIKey(key, provider string) (string, error) {
	if _, ok := knownProviders[provider]; !ok {
		return "", fmt.Errorf("unknown provider %q", provider)
	}
	s.swap(func(next *Snapshot) {
		next.keys[provider] = key
	})
	return fmt.Sprintf("%s key saved", title(provider)), nil
}

// SetProvider switches the active provider. Unknown identifiers are
// rejected here; the provider registry separately tolerates unknowns at
// dispatch time by falling back to the default.
func (s *Store) SetProvider(provider string) (string, error) {
	if _, ok := knownProviders[provider]; !ok {
		return "", fmt.Errorf("invalid provider %q", provider)
	}
	s.swap(func(next *Snapshot) {
		next.Provider = provider
		next.Model = "" // model ids are provider-specific
	})
	return fmt.Sprintf("Provider switched to %s", provider), nil
}

// SetModel overrides the model id for the active provider.
func (s *Store) SetModel(model string) {
	s.swap(func(next *Snapshot) {
		next.Model = model
	})
}

// ToggleMultiAgent switches between single-call and pipeline mode.
func (s *Store) ToggleMultiAgent(enabled bool) {
	s.swap(func(next *Snapshot) {
		next.MultiAgent = enabled
	})
}

// ToggleRetrieval switches retrieval augmentation on or off.
func (s *Store) ToggleRetrieval(enabled bool) {
	s.swap(func(next *Snapshot) {
		next.Retrieval = enabled
	})
}

// swap publishes a mutated copy of the current snapshot.
func (s *Store) swap(mutate func(*Snapshot)) {
	for {
		cur := s.current.Load()
		next := &Snapshot{
			Provider:   cur.Provider,
			Model:      cur.Model,
			MultiAgent: cur.MultiAgent,
			Retrieval:  cur.Retrieval,
			keys:       copyKeys(cur.keys),
		}
		mutate(next)
		if s.current.CompareAndSwap(cur, next) {
			return
		}
	}
}

func copyKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func title(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}
