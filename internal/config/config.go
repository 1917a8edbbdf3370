package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Mount     MountConfig     `yaml:"mount"`
	Cache     CacheConfig     `yaml:"cache"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	Scan      ScanConfig      `yaml:"scan"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig points at the remote media catalog.
type ServerConfig struct {
	BaseURL        string `yaml:"baseurl"`
	Token          string `yaml:"token"`
	TimeoutSeconds int    `yaml:"network_timeout"`
}

type MountConfig struct {
	WebDAVPort int `yaml:"webdav_port"`
}

// CacheConfig selects and configures the persistent snapshot store.
// Backend is one of "badger", "sqlite" or "postgres".
type CacheConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	TTLHours    int    `yaml:"ttl_hours"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// RefreshConfig controls the rescan schedule. An interval of zero means
// scan once and never again; a negative interval disables background
// refresh entirely.
type RefreshConfig struct {
	IntervalMinutes       int `yaml:"interval_minutes"`
	BootstrapRetrySeconds int `yaml:"bootstrap_retry_seconds"`
}

type ScanConfig struct {
	Consumers         int   `yaml:"consumers"`
	QueueFactor       int   `yaml:"queue_factor"`
	ChunkSizes        []int `yaml:"chunk_sizes"`
	RetryDelaySeconds int   `yaml:"retry_delay_seconds"`
}

type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// DefaultConfig returns configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			TimeoutSeconds: 60,
		},
		Mount: MountConfig{
			WebDAVPort: 36911,
		},
		Cache: CacheConfig{
			Backend:  "badger",
			Path:     "./data/cache",
			TTLHours: 24,
		},
		Refresh: RefreshConfig{
			IntervalMinutes:       60,
			BootstrapRetrySeconds: 30,
		},
		Scan: ScanConfig{
			Consumers:         25,
			QueueFactor:       4,
			ChunkSizes:        []int{500, 200, 100, 50},
			RetryDelaySeconds: 2,
		},
		Dashboard: DashboardConfig{
			Enabled: false,
			Port:    9988,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9989,
		},
	}
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.baseurl is required")
	}
	switch c.Cache.Backend {
	case "badger", "sqlite":
	case "postgres":
		if c.Cache.PostgresDSN == "" {
			return fmt.Errorf("cache.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if len(c.Scan.ChunkSizes) == 0 {
		return fmt.Errorf("scan.chunk_sizes must not be empty")
	}
	if c.Scan.Consumers <= 0 {
		return fmt.Errorf("scan.consumers must be positive")
	}
	return nil
}

// EnsureDirectories creates required directories
func (c *Config) EnsureDirectories() error {
	if c.Cache.Backend == "postgres" {
		return nil
	}
	return os.MkdirAll(filepath.Dir(c.Cache.Path), 0755)
}

// NetworkTimeout returns the remote request timeout as a duration.
func (c *Config) NetworkTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// RefreshInterval returns the background refresh interval. Zero and
// negative values keep their special meanings.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Refresh.IntervalMinutes) * time.Minute
}

// CacheTTL returns the snapshot time-to-live.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLHours) * time.Hour
}
