// Package config loads workspace configuration from an optional YAML file,
// environment variables, and built-in defaults, in that order of precedence
// (env overrides file).
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	Chat      ChatConfig      `koanf:"chat"`
	Retrieval RetrievalConfig `koanf:"retrieval"`

	// APIKeys maps provider identifier to credential. Populated from the
	// conventional env names (OPENAI_API_KEY, ...) after unmarshal; a
	// config-file entry wins over the bare env var.
	APIKeys map[string]string `koanf:"api_keys"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	AllowedOrigin string `koanf:"allowed_origin"`
}

type StorageConfig struct {
	Path string `koanf:"path"`
}

type ChatConfig struct {
	DefaultProvider     string `koanf:"default_provider"`
	Model               string `koanf:"model"` // optional override of the provider default
	MultiAgent          bool   `koanf:"multi_agent"`
	Retrieval           bool   `koanf:"retrieval"`
	HistoryTokenBudget  int    `koanf:"history_token_budget"`
	MaxConcurrentCycles int    `koanf:"max_concurrent_cycles"`
	PersistPartial      bool   `koanf:"persist_partial"` // keep partial pipeline transcripts on failure
}

type RetrievalConfig struct {
	ChunkSize    int `koanf:"chunk_size"`
	ChunkOverlap int `koanf:"chunk_overlap"`
	TopK         int `koanf:"top_k"`
}

// envKeyNames maps provider identifiers to their conventional env vars.
var envKeyNames = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"gemini":     "GEMINI_API_KEY",
	"groq":       "GROQ_API_KEY",
	"grok":       "XAI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
	"perplexity": "PERPLEXITY_API_KEY",
}

func Load() (*Config, error) {
	return LoadFile(defaultConfigPath())
}

// LoadFile loads configuration, reading the YAML file at path if it exists.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	// Environment variables override file config
	if err := k.Load(env.Provider("WORKSPACE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "WORKSPACE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Legacy knob from the original desktop app
	if p := os.Getenv("DEFAULT_PROVIDER"); p != "" && !k.Exists("chat.default_provider") {
		k.Set("chat.default_provider", p)
	}

	// Default values
	defaults := map[string]any{
		"server.port":                8873,
		"server.allowed_origin":      "*",
		"storage.path":               filepath.Join(dataDir(), "chat_history.db"),
		"chat.default_provider":      "perplexity",
		"chat.retrieval":             true,
		"chat.history_token_budget":  4000,
		"chat.max_concurrent_cycles": 4,
		"retrieval.chunk_size":       1000,
		"retrieval.chunk_overlap":    200,
		"retrieval.top_k":            5,
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if cfg.APIKeys == nil {
		cfg.APIKeys = make(map[string]string)
	}
	for provider, envName := range envKeyNames {
		if cfg.APIKeys[provider] == "" {
			cfg.APIKeys[provider] = os.Getenv(envName)
		}
	}

	return &cfg, nil
}

// dataDir returns the per-user data directory, creating it if needed.
func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	dir := filepath.Join(home, ".workspace")
	_ = os.MkdirAll(dir, 0o755)
	return dir
}

func defaultConfigPath() string {
	return filepath.Join(dataDir(), "config.yaml")
}
