package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HorizonDays != 30 {
		t.Errorf("expected default horizon of 30 days, got %d", cfg.HorizonDays)
	}
	if cfg.RefreshCron == "" {
		t.Error("expected a default refresh schedule")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("default config file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config file permissions = %o, want 600", perm)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Listen = "127.0.0.1:9999"
	cfg.Timezone = "Europe/Berlin"
	cfg.HorizonDays = 14
	cfg.Weather.ConditionsKey = "abc123"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Listen != "127.0.0.1:9999" {
		t.Errorf("Listen = %q", got.Listen)
	}
	if got.Timezone != "Europe/Berlin" {
		t.Errorf("Timezone = %q", got.Timezone)
	}
	if got.HorizonDays != 14 {
		t.Errorf("HorizonDays = %d", got.HorizonDays)
	}
	if got.Weather.ConditionsKey != "abc123" {
		t.Errorf("ConditionsKey = %q", got.Weather.ConditionsKey)
	}
}

func TestNormalizeFillsDefaults(t *testing.T) {
	var cfg Config
	cfg.Normalize()

	if cfg.Listen == "" || cfg.StorePath == "" || cfg.CacheDir == "" {
		t.Error("Normalize left required paths empty")
	}
	if cfg.HorizonDays != 30 {
		t.Errorf("HorizonDays = %d, want 30", cfg.HorizonDays)
	}
}

func TestNormalizeReadsKeysFromEnv(t *testing.T) {
	t.Setenv("LIFEOS_QUOTE_KEY", "env-key")

	var cfg Config
	cfg.Normalize()
	if cfg.Quote.APIKey != "env-key" {
		t.Errorf("Quote.APIKey = %q, want env fallback", cfg.Quote.APIKey)
	}

	// An explicit file value wins over the environment.
	cfg = Config{Quote: QuoteConfig{APIKey: "file-key"}}
	cfg.Normalize()
	if cfg.Quote.APIKey != "file-key" {
		t.Errorf("Quote.APIKey = %q, want file value", cfg.Quote.APIKey)
	}
}
