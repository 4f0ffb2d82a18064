package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/inkwell-app/inkwell/internal/config"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	home := t.TempDir()
	cfg, err := config.Load(home)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxHistory != 40 {
		t.Fatalf("expected default max_history 40, got %d", cfg.MaxHistory)
	}
	if cfg.WorkerCount != 4 {
		t.Fatalf("expected default worker_count 4, got %d", cfg.WorkerCount)
	}
	if cfg.Persona.RefreshHours != 24 {
		t.Fatalf("expected default refresh 24h, got %d", cfg.Persona.RefreshHours)
	}
	if cfg.DBPath != filepath.Join(home, "inkwell.db") {
		t.Fatalf("unexpected db path %q", cfg.DBPath)
	}
}

func TestLoad_FileOverridesAndFloors(t *testing.T) {
	home := t.TempDir()
	yaml := `
worker_count: 8
max_history: -3
llm:
  provider: anthropic
  model: claude-sonnet-4-5
redis:
  addr: localhost:6379
`
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(home)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WorkerCount != 8 {
		t.Fatalf("expected worker_count 8, got %d", cfg.WorkerCount)
	}
	// Nonsense values fall back to the floor.
	if cfg.MaxHistory != 40 {
		t.Fatalf("expected max_history floored to 40, got %d", cfg.MaxHistory)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Fatalf("expected anthropic provider, got %q", cfg.LLM.Provider)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("expected redis addr, got %q", cfg.Redis.Addr)
	}
	if cfg.HistoryTTL() != 6*time.Hour {
		t.Fatalf("expected default history TTL 6h, got %s", cfg.HistoryTTL())
	}
}

func TestLoad_EnvSuppliesSecrets(t *testing.T) {
	t.Setenv("INKWELL_TELEGRAM_TOKEN", "123456:token")
	t.Setenv("INKWELL_REDIS_PASSWORD", "hunter2")

	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "123456:token" {
		t.Fatalf("expected token from env, got %q", cfg.Telegram.Token)
	}
	if cfg.Redis.Password != "hunter2" {
		t.Fatalf("expected redis password from env, got %q", cfg.Redis.Password)
	}
}

func TestDefaultHomeDir_HonorsEnv(t *testing.T) {
	t.Setenv("INKWELL_HOME", "/tmp/inkwell-test-home")
	home, err := config.DefaultHomeDir()
	if err != nil {
		t.Fatalf("home: %v", err)
	}
	if home != "/tmp/inkwell-test-home" {
		t.Fatalf("expected INKWELL_HOME override, got %q", home)
	}
}
