// Package config loads service settings from .env, an optional YAML file and
// the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	DatabaseURL   string `yaml:"database_url"`
	Port          string `yaml:"port"`
	RedisURL      string `yaml:"redis_url"`
	NotifyChannel string `yaml:"notify_channel"`

	// APISharedSecret must accompany X-User-Admin for the header to count.
	APISharedSecret string `yaml:"api_shared_secret"`

	Fetch       FetchConfig       `yaml:"fetch"`
	Browser     BrowserConfig     `yaml:"browser"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
}

type FetchConfig struct {
	UserAgent     string        `yaml:"user_agent"`
	Timeout       time.Duration `yaml:"timeout"`
	RespectRobots bool          `yaml:"respect_robots"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	MaxAttempts   int           `yaml:"max_attempts"`
	MaxAPIPages   int           `yaml:"max_api_pages"`
	HostLimits    []HostLimit   `yaml:"host_limits"`
}

// HostLimit replaces the global request rate for a single host.
type HostLimit struct {
	Host  string        `yaml:"host"`
	Every time.Duration `yaml:"every"`
	Burst int           `yaml:"burst"`
}

type BrowserConfig struct {
	Headless          bool          `yaml:"headless"`
	ExecPath          string        `yaml:"exec_path"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	SelectorTimeout   time.Duration `yaml:"selector_timeout"`
	PaginationTimeout time.Duration `yaml:"pagination_timeout"`
	MaxPages          int           `yaml:"max_pages"`
}

type ConcurrencyConfig struct {
	Pages   int `yaml:"pages"`
	Details int `yaml:"details"`
	Checks  int `yaml:"checks"`
}

func Default() Config {
	return Config{
		Port:          "8080",
		NotifyChannel: "EVENT_NEW_LISTINGS",
		Fetch: FetchConfig{
			Timeout:       20 * time.Second,
			RatePerSecond: 2,
			Burst:         4,
			MaxAttempts:   3,
			MaxAPIPages:   100,
			HostLimits: []HostLimit{
				{Host: "api.mobile.immobilienscout24.de", Every: 100 * time.Millisecond, Burst: 8},
			},
		},
		Browser: BrowserConfig{
			Headless:          true,
			NavigationTimeout: 60 * time.Second,
			SelectorTimeout:   10 * time.Second,
			PaginationTimeout: 10 * time.Second,
			MaxPages:          10,
		},
		Concurrency: ConcurrencyConfig{Pages: 4, Details: 8, Checks: 4},
	}
}

// Load reads .env (if present), then $CONFIG_FILE (if set), then environment
// overrides, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path, ok := lookup("CONFIG_FILE"); ok && path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str("DATABASE_URL", &c.DatabaseURL)
	str("PORT", &c.Port)
	str("REDIS_URL", &c.RedisURL)
	str("NOTIFY_CHANNEL", &c.NotifyChannel)
	str("BROWSER_EXEC_PATH", &c.Browser.ExecPath)
	str("FETCH_USER_AGENT", &c.Fetch.UserAgent)
	str("API_SHARED_SECRET", &c.APISharedSecret)
	if err := boolean("BROWSER_HEADLESS", &c.Browser.Headless); err != nil {
		return err
	}
	return boolean("FETCH_RESPECT_ROBOTS", &c.Fetch.RespectRobots)
}

func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, errors.New("fetch.timeout must be positive"))
	}
	if c.Browser.NavigationTimeout <= 0 || c.Browser.SelectorTimeout <= 0 || c.Browser.PaginationTimeout <= 0 {
		errs = append(errs, errors.New("browser timeouts must be positive"))
	}
	if c.Browser.MaxPages < 1 || c.Browser.MaxPages > 50 {
		errs = append(errs, fmt.Errorf("browser.max_pages must be in [1, 50], got %d", c.Browser.MaxPages))
	}
	if c.Fetch.RatePerSecond <= 0 {
		errs = append(errs, errors.New("fetch.rate_per_second must be positive"))
	}
	if c.Fetch.MaxAPIPages < 1 {
		errs = append(errs, fmt.Errorf("fetch.max_api_pages must be at least 1, got %d", c.Fetch.MaxAPIPages))
	}
	for i, hl := range c.Fetch.HostLimits {
		if hl.Host == "" || hl.Every <= 0 || hl.Burst < 1 {
			errs = append(errs, fmt.Errorf("fetch.host_limits[%d]: host, positive every and burst >= 1 are required", i))
		}
	}
	return errors.Join(errs...)
}
