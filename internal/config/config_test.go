package config

import (
	"os"
	"testing"
)

func TestLoadFile_Defaults(t *testing.T) {
	os.Unsetenv("WORKSPACE_SERVER__PORT")

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Server.Port != 8873 {
		t.Errorf("Load() port = %v, want 8873", cfg.Server.Port)
	}
	if cfg.Chat.DefaultProvider != "perplexity" {
		t.Errorf("Load() default provider = %v, want perplexity", cfg.Chat.DefaultProvider)
	}
	if cfg.Chat.MaxConcurrentCycles != 4 {
		t.Errorf("Load() max concurrent cycles = %v, want 4", cfg.Chat.MaxConcurrentCycles)
	}
	if cfg.Retrieval.ChunkSize != 1000 || cfg.Retrieval.ChunkOverlap != 200 {
		t.Errorf("Load() chunker = %d/%d, want 1000/200", cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap)
	}
}

func TestLoadFile_EnvOverride(t *testing.T) {
	os.Setenv("WORKSPACE_SERVER__PORT", "9000")
	os.Setenv("WORKSPACE_CHAT__DEFAULT_PROVIDER", "groq")
	defer os.Unsetenv("WORKSPACE_SERVER__PORT")
	defer os.Unsetenv("WORKSPACE_CHAT__DEFAULT_PROVIDER")

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Load() port = %v, want 9000", cfg.Server.Port)
	}
	if cfg.Chat.DefaultProvider != "groq" {
		t.Errorf("Load() default provider = %v, want groq", cfg.Chat.DefaultProvider)
	}
}

func TestLoadFile_ProviderKeysFromEnv(t *testing.T) {
	os.Setenv("GROQ_API_KEY", "gsk-test")
	defer os.Unsetenv("GROQ_API_KEY")

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.APIKeys["groq"] != "gsk-test" {
		t.Errorf("APIKeys[groq] = %q, want gsk-test", cfg.APIKeys["groq"])
	}
}
