package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type ServerConfig struct {
	Port      int           `yaml:"port"`
	Timeout   time.Duration `yaml:"timeout"` // per-request handler timeout
	JWTSecret string        `yaml:"jwt_secret"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PlatformCredentials holds one ad platform's long-lived API access. Token
// refresh is the credential store's job, not the engine's.
type PlatformCredentials struct {
	AccessToken    string `yaml:"access_token"`
	DeveloperToken string `yaml:"developer_token"` // Google Ads only
	BaseURL        string `yaml:"base_url"`        // override for sandboxes/tests
}

type PlatformsConfig struct {
	GoogleAds PlatformCredentials `yaml:"google_ads"`
	Meta      PlatformCredentials `yaml:"meta"`
	TikTok    PlatformCredentials `yaml:"tiktok"`
}

type ActivationConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	HashSalt          string        `yaml:"hash_salt"` // empty for cross-party matching
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"` // per platform per window; 0 disables
	Window   time.Duration `yaml:"window"`
}

type Config struct {
	Log        LogConfig        `yaml:"log"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Platforms  PlatformsConfig  `yaml:"platforms"`
	Activation ActivationConfig `yaml:"activation"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Runtime    RuntimeConfig    `yaml:"-"`
}

// LoadConfig reads YAML from path, applies env overrides for secrets, fills
// defaults and validates.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Runtime.Dev = dev

	// Secrets may come from the environment instead of the file.
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := os.Getenv("GOOGLE_ADS_ACCESS_TOKEN"); v != "" {
		cfg.Platforms.GoogleAds.AccessToken = v
	}
	if v := os.Getenv("GOOGLE_ADS_DEVELOPER_TOKEN"); v != "" {
		cfg.Platforms.GoogleAds.DeveloperToken = v
	}
	if v := os.Getenv("META_ACCESS_TOKEN"); v != "" {
		cfg.Platforms.Meta.AccessToken = v
	}
	if v := os.Getenv("TIKTOK_ACCESS_TOKEN"); v != "" {
		cfg.Platforms.TikTok.AccessToken = v
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = 5 * time.Minute
	}
	if c.Activation.MaxRetries == 0 {
		c.Activation.MaxRetries = 3
	}
	if c.Activation.BaseDelay == 0 {
		c.Activation.BaseDelay = 1 * time.Second
	}
	if c.Activation.ReconcileInterval == 0 {
		c.Activation.ReconcileInterval = 1 * time.Hour
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = 1 * time.Minute
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Server.JWTSecret == "" && !c.Runtime.Dev {
		return errors.New("server.jwt_secret is required outside dev mode")
	}
	haveAny := c.Platforms.GoogleAds.AccessToken != "" ||
		c.Platforms.Meta.AccessToken != "" ||
		c.Platforms.TikTok.AccessToken != ""
	if !haveAny && !c.Runtime.Dev {
		return errors.New("at least one platform access token must be configured")
	}
	if c.Platforms.GoogleAds.AccessToken != "" && c.Platforms.GoogleAds.DeveloperToken == "" {
		return errors.New("platforms.google_ads.developer_token is required with an access token")
	}
	return nil
}
