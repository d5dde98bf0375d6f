// Package provider creates LLM providers from the active settings,
// dispatching on the provider identifier through a factory registry with a
// default fallback.
package provider

import (
	"sync"

	"github.com/agenticlabs/workspace/internal/domain"
	"github.com/agenticlabs/workspace/internal/provider/anthropic"
	"github.com/agenticlabs/workspace/internal/provider/gemini"
	"github.com/agenticlabs/workspace/internal/provider/openai"
	"github.com/agenticlabs/workspace/internal/provider/registry"
)

// openAICompatibleBaseURLs maps identifiers served by the OpenAI wire
// format to their endpoints. OpenAI itself uses the client default.
var openAICompatibleBaseURLs = map[string]string{
	"groq":       "https://api.groq.com/openai/v1",
	"grok":       "https://api.x.ai/v1",
	"openrouter": "https://openrouter.ai/api/v1",
	"perplexity": "https://api.perplexity.ai",
}

// defaultModels is the model used for each provider when the user has not
// picked one explicitly.
var defaultModels = map[string]string{
	"openai":     "gpt-4o",
	"anthropic":  "claude-sonnet-4-5-20250929",
	"gemini":     "gemini-2.0-flash-001",
	"groq":       "llama-3.3-70b-versatile",
	"grok":       "grok-3",
	"openrouter": "openai/gpt-4o-mini",
	"perplexity": "sonar",
}

var registerOnce sync.Once

// RegisterBuiltins registers the built-in provider factories. Safe to call
// more than once; wired from cmd/workspace and from tests.
func RegisterBuiltins() {
	registerOnce.Do(func() {
		registry.RegisterFactory(registry.Factory{
			Identifiers: []string{"openai", "groq", "grok", "openrouter", "perplexity"},
			Description: "OpenAI Chat Completions API and compatible backends",
			Create: func(cfg registry.Config) (domain.Provider, error) {
				opts := []openai.Option{openai.WithName(cfg.Provider)}
				if cfg.BaseURL != "" {
					opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
				} else if u := openAICompatibleBaseURLs[cfg.Provider]; u != "" {
					opts = append(opts, openai.WithBaseURL(u))
				}
				return openai.New(cfg.APIKey, opts...), nil
			},
		})

		registry.RegisterFactory(registry.Factory{
			Identifiers: []string{"anthropic"},
			Description: "Anthropic Messages API",
			Create: func(cfg registry.Config) (domain.Provider, error) {
				var opts []anthropic.Option
				if cfg.BaseURL != "" {
					opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
				}
				return anthropic.New(cfg.APIKey, opts...), nil
			},
		})

		registry.RegisterFactory(registry.Factory{
			Identifiers: []string{"gemini"},
			Description: "Google Gemini generateContent API",
			Create: func(cfg registry.Config) (domain.Provider, error) {
				var opts []gemini.Option
				if cfg.BaseURL != "" {
					opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
				}
				return gemini.New(cfg.APIKey, opts...), nil
			},
		})
	})
}
