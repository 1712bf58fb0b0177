package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "forge.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.DefaultModel != "gemini-2.5-flash" {
		t.Fatalf("DefaultModel = %q, want gemini-2.5-flash", cfg.LLM.DefaultModel)
	}
	if cfg.PollInterval() != 20*time.Second {
		t.Fatalf("PollInterval() = %v, want 20s", cfg.PollInterval())
	}
	if cfg.Retrieval.TopK != 10 || cfg.Retrieval.MinScore != 0.7 {
		t.Fatalf("Retrieval defaults = %+v, want top_k=10 min_score=0.7", cfg.Retrieval)
	}
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forge.yaml")
	content := `
llm:
  default_model: claude-sonnet-4
  gemini_api_key: from-file
polling:
  interval: 5s
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GEMINI_API_KEY", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.DefaultModel != "claude-sonnet-4" {
		t.Fatalf("DefaultModel = %q, want file value", cfg.LLM.DefaultModel)
	}
	if cfg.LLM.GeminiAPIKey != "from-env" {
		t.Fatalf("GeminiAPIKey = %q, want env override", cfg.LLM.GeminiAPIKey)
	}
	if cfg.PollInterval() != 5*time.Second {
		t.Fatalf("PollInterval() = %v, want 5s", cfg.PollInterval())
	}
}

func TestLoad_GoogleAPIKeyFallback(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "google-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "forge.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.GeminiAPIKey != "google-key" {
		t.Fatalf("GeminiAPIKey = %q, want GOOGLE_API_KEY fallback", cfg.LLM.GeminiAPIKey)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	cfg.LLM.DefaultModel = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for missing model")
	}
}

func TestDurationFallbacks(t *testing.T) {
	cfg := &Config{}
	if cfg.SyncTimeout() != 5*time.Minute {
		t.Fatalf("SyncTimeout() = %v, want 5m fallback", cfg.SyncTimeout())
	}
	if cfg.ExpectedCeiling() != 10*time.Minute {
		t.Fatalf("ExpectedCeiling() = %v, want 10m fallback", cfg.ExpectedCeiling())
	}
}
