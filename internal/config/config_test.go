package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Sync.LocalCacheTTL() != 30*24*time.Hour {
		t.Fatalf("LocalCacheTTL() = %v", cfg.Sync.LocalCacheTTL())
	}
	if cfg.Sync.SyncInterval() != 30*time.Second {
		t.Fatalf("SyncInterval() = %v", cfg.Sync.SyncInterval())
	}
	if cfg.Sync.CookieSizeLimitBytes != 4096 {
		t.Fatalf("CookieSizeLimitBytes = %d", cfg.Sync.CookieSizeLimitBytes)
	}
}

func TestLoadFromFile_YAMLKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cartsync.yaml")
	data := []byte("sync:\n  maxRetries: 7\ncache:\n  backend: memory\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Sync.MaxRetries != 7 {
		t.Fatalf("MaxRetries = %d, want 7", cfg.Sync.MaxRetries)
	}
	if cfg.Sync.RetryBackoffMs != 1000 {
		t.Fatalf("RetryBackoffMs = %d, want default 1000", cfg.Sync.RetryBackoffMs)
	}
	if cfg.Cache.Backend != "memory" {
		t.Fatalf("Cache.Backend = %q", cfg.Cache.Backend)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cartsync.json")
	data := []byte(`{"remote":{"base_url":"http://shop.test"},"sync":{"queue_max_attempts":2}}`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Remote.BaseURL != "http://shop.test" {
		t.Fatalf("BaseURL = %q", cfg.Remote.BaseURL)
	}
	if cfg.Sync.QueueMaxAttempts != 2 {
		t.Fatalf("QueueMaxAttempts = %d", cfg.Sync.QueueMaxAttempts)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CARTSYNC_REMOTE_URL", "http://env.test")
	t.Setenv("CARTSYNC_MAX_RETRIES", "9")
	t.Setenv("CARTSYNC_SYNC_INTERVAL_MS", "not-a-number")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Remote.BaseURL != "http://env.test" {
		t.Fatalf("BaseURL = %q", cfg.Remote.BaseURL)
	}
	if cfg.Sync.MaxRetries != 9 {
		t.Fatalf("MaxRetries = %d", cfg.Sync.MaxRetries)
	}
	if cfg.Sync.SyncIntervalMs != 30_000 {
		t.Fatalf("invalid env value should be ignored, got %d", cfg.Sync.SyncIntervalMs)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"ttl", func(c *Config) { c.Sync.LocalCacheTTLDays = 0 }},
		{"retries", func(c *Config) { c.Sync.MaxRetries = 0 }},
		{"cookie", func(c *Config) { c.Sync.CookieSizeLimitBytes = -1 }},
		{"backend", func(c *Config) { c.Cache.Backend = "floppy" }},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tt.name)
		}
	}
}
