package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all daemon configuration
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Cookies CookieConfig
	Login   LoginConfig
	Browser BrowserConfig
	Logging LogConfig
}

// ServerConfig holds the loopback HTTP API configuration
type ServerConfig struct {
	Addr          string `envconfig:"ADDR" default:"127.0.0.1:8765"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"*"`
}

// StorageConfig holds on-disk locations
type StorageConfig struct {
	Dir string `envconfig:"STORAGE_DIR" default:"./storage"`
}

// CookieConfig controls the cookie store and pinning
type CookieConfig struct {
	Store       string        `envconfig:"COOKIE_STORE" default:"jar"`
	PinDuration time.Duration `envconfig:"COOKIE_PIN_DURATION" default:"8760h"`
	PinSession  bool          `envconfig:"COOKIE_PIN_SESSION" default:"true"`
}

// LoginConfig controls the external login fallback
type LoginConfig struct {
	SyncDelay   time.Duration `envconfig:"LOGIN_SYNC_DELAY" default:"3s"`
	RatePerHour int           `envconfig:"LOGIN_RATE_PER_HOUR" default:"30"`
	Burst       int           `envconfig:"LOGIN_BURST" default:"5"`
}

// BrowserConfig controls the optional live browser runtime
type BrowserConfig struct {
	Runtime      string `envconfig:"BROWSER_RUNTIME" default:"none"`
	Headless     bool   `envconfig:"BROWSER_HEADLESS" default:"false"`
	ChromePath   string `envconfig:"CHROME_PATH"`
	MaxInstances int64  `envconfig:"BROWSER_MAX_INSTANCES" default:"8"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Addr: "127.0.0.1:8765", AllowedOrigin: "*"},
		Storage: StorageConfig{Dir: "./storage"},
		Cookies: CookieConfig{Store: "jar", PinDuration: 365 * 24 * time.Hour, PinSession: true},
		Login:   LoginConfig{SyncDelay: 3 * time.Second, RatePerHour: 30, Burst: 5},
		Browser: BrowserConfig{Runtime: "none", MaxInstances: 8},
		Logging: LogConfig{Level: "info"},
	}
}

// Validate checks enumerated and ranged values
func (c *Config) Validate() error {
	switch c.Cookies.Store {
	case "jar", "browser":
	default:
		return fmt.Errorf("invalid COOKIE_STORE %q (want jar or browser)", c.Cookies.Store)
	}
	switch c.Browser.Runtime {
	case "none", "local", "docker":
	default:
		return fmt.Errorf("invalid BROWSER_RUNTIME %q (want none, local or docker)", c.Browser.Runtime)
	}
	if c.Cookies.Store == "browser" && c.Browser.Runtime == "none" {
		return fmt.Errorf("COOKIE_STORE=browser requires BROWSER_RUNTIME local or docker")
	}
	if c.Cookies.PinDuration < 24*time.Hour {
		return fmt.Errorf("COOKIE_PIN_DURATION must be at least 24h")
	}
	if c.Login.SyncDelay <= 0 {
		return fmt.Errorf("LOGIN_SYNC_DELAY must be positive")
	}
	if c.Login.RatePerHour <= 0 || c.Login.Burst <= 0 {
		return fmt.Errorf("LOGIN_RATE_PER_HOUR and LOGIN_BURST must be positive")
	}
	if c.Browser.MaxInstances <= 0 {
		return fmt.Errorf("BROWSER_MAX_INSTANCES must be positive")
	}
	return nil
}
