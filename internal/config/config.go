package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables overriding the file
const (
	EnvConfig     = "GEARPLANNER_CONFIG"
	EnvCatalogURL = "GEARPLANNER_CATALOG_URL"
	EnvCatalogDir = "GEARPLANNER_CATALOG_DIR"
	EnvCachePath  = "GEARPLANNER_CACHE_PATH"
	EnvLogLevel   = "GEARPLANNER_LOG_LEVEL"
	EnvAddr       = "GEARPLANNER_ADDR"
	EnvDatabase   = "DATABASE_URL"
)

// DefaultPath is the config file read when no path is given
const DefaultPath = "gearplanner.yaml"

// Config holds all planner configuration.
type Config struct {
	Addr     string        `yaml:"addr"`
	LogLevel string        `yaml:"log_level"`
	Catalog  CatalogConfig `yaml:"catalog"`
	Cache    CacheConfig   `yaml:"cache"`
	Sync     SyncConfig    `yaml:"sync"`
}

// CatalogConfig locates the chunked item catalog.
type CatalogConfig struct {
	URL         string        `yaml:"url"` // static host serving manifest and chunks
	Dir         string        `yaml:"dir"` // local chunk directory; wins over URL
	Manifest    string        `yaml:"manifest"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
}

// CacheConfig controls the persistent chunk cache.
type CacheConfig struct {
	Path        string        `yaml:"path"`
	DatabaseURL string        `yaml:"database_url"` // postgres; wins over path
	Version     string        `yaml:"version"`
	TTL         time.Duration `yaml:"ttl"`
	Disabled    bool          `yaml:"disabled"` // keep chunks in memory only
}

// SyncConfig tunes the fragment write-back and load polling.
type SyncConfig struct {
	Debounce     time.Duration `yaml:"debounce"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Default returns Config with sensible defaults.
func Default() Config {
	return Config{
		Addr:     "127.0.0.1:8420",
		LogLevel: "info",
		Catalog: CatalogConfig{
			Dir:         "public/gear_chunks/v1",
			Manifest:    "index.json",
			Timeout:     10 * time.Second,
			Concurrency: 4,
		},
		Cache: CacheConfig{
			Version: "v2",
			TTL:     30 * 24 * time.Hour,
		},
		Sync: SyncConfig{
			Debounce:     300 * time.Millisecond,
			PollInterval: 250 * time.Millisecond,
		},
	}
}

// Load reads config from a YAML file.
// If the file doesn't exist, returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadDotEnv loads the first .env file found and returns its path
func LoadDotEnv(paths ...string) string {
	if len(paths) == 0 {
		paths = []string{".env", "../.env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err == nil {
			return path
		}
	}
	return ""
}

// ApplyEnv overrides fields from the environment
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvCatalogURL); v != "" {
		c.Catalog.URL = v
		c.Catalog.Dir = ""
	}
	if v := os.Getenv(EnvCatalogDir); v != "" {
		c.Catalog.Dir = v
	}
	if v := os.Getenv(EnvCachePath); v != "" {
		c.Cache.Path = v
	}
	if v := os.Getenv(EnvDatabase); v != "" {
		c.Cache.DatabaseURL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvAddr); v != "" {
		c.Addr = v
	}
}

// Validate checks bounds and required fields
func (c Config) Validate() error {
	var errs []error
	if c.Catalog.URL == "" && c.Catalog.Dir == "" {
		errs = append(errs, errors.New("catalog: url or dir is required"))
	}
	if c.Catalog.Manifest == "" {
		errs = append(errs, errors.New("catalog: manifest is required"))
	}
	if c.Catalog.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("catalog: timeout must be positive, got %s", c.Catalog.Timeout))
	}
	if c.Catalog.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("catalog: concurrency must be positive, got %d", c.Catalog.Concurrency))
	}
	if c.Cache.Version == "" || strings.Contains(c.Cache.Version, "-") {
		errs = append(errs, fmt.Errorf("cache: invalid version %q", c.Cache.Version))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, fmt.Errorf("cache: ttl must be positive, got %s", c.Cache.TTL))
	}
	if c.Sync.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("sync: debounce must be positive, got %s", c.Sync.Debounce))
	}
	if c.Sync.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("sync: poll_interval must be positive, got %s", c.Sync.PollInterval))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLevel maps a config log level to slog
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}
