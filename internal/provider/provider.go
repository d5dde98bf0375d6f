package provider

import (
	"log/slog"

	"github.com/agenticlabs/workspace/internal/domain"
	"github.com/agenticlabs/workspace/internal/provider/registry"
)

// FallbackProvider is used when an unknown identifier is requested.
// Unknown identifiers are a soft condition: log a warning and serve the
// default, never fail the cycle.
const FallbackProvider = "openai"

// Resolve maps a provider identifier and model override to the identifier
// and model actually used, falling back for unknown identifiers.
func Resolve(identifier, model string, logger *slog.Logger) (string, string) {
	if !registry.IsRegistered(identifier) {
		if logger != nil {
			logger.Warn("unknown provider, falling back",
				slog.String("provider", identifier),
				slog.String("fallback", FallbackProvider))
		}
		identifier = FallbackProvider
	}
	if model == "" {
		model = defaultModels[identifier]
	}
	return identifier, model
}

// Create builds a provider instance, applying the unknown-identifier
// fallback and default-model resolution. It returns the provider and the
// model id cycles should request.
func Create(identifier, model, apiKey string, logger *slog.Logger) (domain.Provider, string, error) {
	id, model := Resolve(identifier, model, logger)
	p, err := registry.CreateFromFactory(registry.Config{Provider: id, APIKey: apiKey})
	if err != nil {
		return nil, "", err
	}
	return p, model, nil
}

// DefaultModel returns the default model id for a provider identifier.
func DefaultModel(identifier string) string {
	return defaultModels[identifier]
}
