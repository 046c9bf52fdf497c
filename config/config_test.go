package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Chat.TokenLimit != 120000 {
		t.Fatalf("expected default token limit 120000, got %d", cfg.Chat.TokenLimit)
	}
	if cfg.Chat.MaxToolSteps != 15 {
		t.Fatalf("expected default max tool steps 15, got %d", cfg.Chat.MaxToolSteps)
	}
	if cfg.Research.DefaultBreadth != 3 {
		t.Fatalf("expected default breadth 3, got %d", cfg.Research.DefaultBreadth)
	}
	if cfg.Research.InsightThreshold != 0.7 {
		t.Fatalf("expected insight threshold 0.7, got %v", cfg.Research.InsightThreshold)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
server:
  address: ":9191"
chat:
  token_limit: 50000
research:
  default_breadth: 4
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Address != ":9191" {
		t.Fatalf("expected address :9191, got %q", cfg.Server.Address)
	}
	if cfg.Chat.TokenLimit != 50000 {
		t.Fatalf("expected token limit 50000, got %d", cfg.Chat.TokenLimit)
	}
	if cfg.Research.DefaultBreadth != 4 {
		t.Fatalf("expected breadth 4, got %d", cfg.Research.DefaultBreadth)
	}
	// defaults still fill unset sections
	if cfg.Chat.MaxToolSteps != 15 {
		t.Fatalf("expected max tool steps default 15, got %d", cfg.Chat.MaxToolSteps)
	}
}

func TestLoadConfigRejectsBadBreadth(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("research:\n  default_breadth: 9\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error for breadth out of range")
	}
}
