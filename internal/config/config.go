// Package config provides the YAML-based application configuration,
// including first-run config creation and atomic 0600 saves.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the dashboard API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// WeatherConfig holds the provider keys and endpoints for the weather widget.
// ConditionsKey is required for the widget to work at all; UVKey and
// AstronomyKey are optional and only unlock the extra fields.
type WeatherConfig struct {
	ConditionsKey string `yaml:"conditions_key" json:"conditions_key"`
	UVKey         string `yaml:"uv_key" json:"uv_key"`
	AstronomyKey  string `yaml:"astronomy_key" json:"astronomy_key"`

	// Endpoint overrides, mainly for tests. Empty means the provider default.
	ConditionsURL string `yaml:"conditions_url,omitempty" json:"conditions_url,omitempty"`
	UVURL         string `yaml:"uv_url,omitempty" json:"uv_url,omitempty"`
	AstronomyURL  string `yaml:"astronomy_url,omitempty" json:"astronomy_url,omitempty"`

	Latitude  float64 `yaml:"latitude" json:"latitude"`
	Longitude float64 `yaml:"longitude" json:"longitude"`
}

// QuoteConfig holds the stock-quote provider key and endpoint.
type QuoteConfig struct {
	APIKey  string `yaml:"api_key" json:"api_key"`
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
}

// TasksConfig holds the OAuth client configuration for the task provider.
type TasksConfig struct {
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"client_secret"`
	RedirectURL  string `yaml:"redirect_url" json:"redirect_url"`

	// Endpoint overrides, mainly for tests.
	AuthURL  string `yaml:"auth_url,omitempty" json:"auth_url,omitempty"`
	TokenURL string `yaml:"token_url,omitempty" json:"token_url,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the dashboard API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA display timezone; the expansion window and
	// all-day boundaries are computed in this zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// HorizonDays is the calendar expansion window length.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// RefreshCron re-warms the widget caches (e.g. "*/10 * * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// StorePath is the settings database file.
	StorePath string `yaml:"store_path" json:"store_path"`

	// CacheDir holds the per-feed ICS HTTP cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	Log     LogConfig     `yaml:"log" json:"log"`
	Weather WeatherConfig `yaml:"weather" json:"weather"`
	Quote   QuoteConfig   `yaml:"quote" json:"quote"`
	Tasks   TasksConfig   `yaml:"tasks" json:"tasks"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "Local",
		HorizonDays: 30,
		RefreshCron: "*/10 * * * *",
		StorePath:   "./var/lifeos.db",
		CacheDir:    "./var/ics-cache",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly. API keys left empty in
// the file fall back to process environment variables, which is where
// deployments usually keep them.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 30
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/10 * * * *"
	}
	if c.StorePath == "" {
		c.StorePath = "./var/lifeos.db"
	}
	if c.CacheDir == "" {
		c.CacheDir = "./var/ics-cache"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	c.Weather.ConditionsKey = envDefault(c.Weather.ConditionsKey, "LIFEOS_WEATHER_KEY")
	c.Weather.UVKey = envDefault(c.Weather.UVKey, "LIFEOS_UV_KEY")
	c.Weather.AstronomyKey = envDefault(c.Weather.AstronomyKey, "LIFEOS_ASTRONOMY_KEY")
	c.Quote.APIKey = envDefault(c.Quote.APIKey, "LIFEOS_QUOTE_KEY")
	c.Tasks.ClientID = envDefault(c.Tasks.ClientID, "LIFEOS_TASKS_CLIENT_ID")
	c.Tasks.ClientSecret = envDefault(c.Tasks.ClientSecret, "LIFEOS_TASKS_CLIENT_SECRET")
}

func envDefault(val, envKey string) string {
	if val != "" {
		return val
	}
	return os.Getenv(envKey)
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist, a default config is written there (creating
// the parent directory if needed) and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			cfg.Normalize()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the configuration to path atomically (temp file + rename)
// with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".lifeos-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save writes this config to path. Convenience for handler code.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
