package provider

import (
	"log/slog"
	"testing"

	"github.com/agenticlabs/workspace/internal/provider/registry"
)

func TestCreate(t *testing.T) {
	RegisterBuiltins()

	tests := []struct {
		name       string
		identifier string
		model      string
		wantName   string
		wantModel  string
	}{
		{
			name:       "openai",
			identifier: "openai",
			wantName:   "openai",
			wantModel:  "gpt-4o",
		},
		{
			name:       "groq routes through openai wire format",
			identifier: "groq",
			wantName:   "groq",
			wantModel:  "llama-3.3-70b-versatile",
		},
		{
			name:       "anthropic",
			identifier: "anthropic",
			wantName:   "anthropic",
			wantModel:  "claude-sonnet-4-5-20250929",
		},
		{
			name:       "model override wins",
			identifier: "perplexity",
			model:      "sonar-pro",
			wantName:   "perplexity",
			wantModel:  "sonar-pro",
		},
		{
			name:       "unknown falls back to default, never fails",
			identifier: "skynet",
			wantName:   "openai",
			wantModel:  "gpt-4o",
		},
	}

	logger := slog.Default()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, model, err := Create(tt.identifier, tt.model, "test-key", logger)
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			if p.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.wantName)
			}
			if model != tt.wantModel {
				t.Errorf("model = %q, want %q", model, tt.wantModel)
			}
		})
	}
}

func TestRegisterBuiltins_CoversConfiguredIdentifiers(t *testing.T) {
	RegisterBuiltins()

	for _, id := range []string{"openai", "anthropic", "gemini", "groq", "grok", "openrouter", "perplexity"} {
		if !registry.IsRegistered(id) {
			t.Errorf("identifier %q not registered", id)
		}
	}
}
