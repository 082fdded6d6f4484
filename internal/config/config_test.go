package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"basic_config": {"server_address": ":9000"},
		"databases": {"sqlite3": {"dsn": "data/chat.db"}}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != ":9000" {
		t.Fatalf("server address overwritten: %s", cfg.BasicConfig.ServerAddress)
	}
	if cfg.BasicConfig.StreamTimeout != 120 {
		t.Fatalf("expected default stream timeout, got %d", cfg.BasicConfig.StreamTimeout)
	}
	if want := filepath.Join(filepath.Dir(path), "data/chat.db"); cfg.Databases["sqlite3"].DSN != want {
		t.Fatalf("sqlite dsn not resolved: %s", cfg.Databases["sqlite3"].DSN)
	}
	if _, ok := cfg.Entitlements["regular"]; !ok {
		t.Fatalf("expected default entitlements")
	}
	if cfg.Models.DefaultProvider != "openai" {
		t.Fatalf("unexpected default provider %q", cfg.Models.DefaultProvider)
	}
}

func TestLoadEnvOverridesSecrets(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("REDIS_URL", "redis://localhost:6379/2")
	path := writeConfig(t, `{
		"providers": {"openai": {"api_key": "sk-file", "model": "gpt-4o"}},
		"resumable_stream": {"redis_url": ""}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Providers["openai"].APIKey != "sk-env" {
		t.Fatalf("env key not applied: %q", cfg.Providers["openai"].APIKey)
	}
	if cfg.Providers["openai"].Model != "gpt-4o" {
		t.Fatalf("model lost during overlay")
	}
	if cfg.ResumableStream.RedisURL != "redis://localhost:6379/2" {
		t.Fatalf("redis url not applied: %q", cfg.ResumableStream.RedisURL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing config")
	}
}
