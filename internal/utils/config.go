package utils

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultVersionURL   = "https://raw.githubusercontent.com/dpipstudio/botwave/refs/heads/main/assets/latest.ver.txt"
	DefaultUninstallURL = "https://raw.githubusercontent.com/dpipstudio/botwave/refs/heads/main/scripts/uninstall.sh"
	DefaultUserAgent    = "botwavephp"
)

// PostgresConfig describes where API tokens are stored. Host may also be a full
// postgres:// URL, in which case the other fields are ignored.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// Config is the full service configuration as read from YAML.
type Config struct {
	Server struct {
		Host    string `yaml:"host"`
		Port    string `yaml:"port"`
		Prefork bool   `yaml:"prefork"`
	} `yaml:"server"`

	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`

	Upstream struct {
		VersionURL   string        `yaml:"version_url"`
		UninstallURL string        `yaml:"uninstall_url"`
		UserAgent    string        `yaml:"user_agent"`
		Timeout      time.Duration `yaml:"timeout"`
	} `yaml:"upstream"`

	Cache struct {
		RedisHost    string `yaml:"redis_host"`
		RateLimitDB  int    `yaml:"redis_rate_db"`
		StatsDB      int    `yaml:"redis_stats_db"`
		StatsEnabled bool   `yaml:"stats_enabled"`
	} `yaml:"cache"`

	RateLimiter struct {
		Interval          time.Duration `yaml:"interval"`
		EnableUserLimiter bool          `yaml:"enable_user_limiter"`
		UserLimit         int           `yaml:"user_limit"`
	} `yaml:"rate_limiter"`

	Auth struct {
		Postgres        PostgresConfig `yaml:"postgres"`
		RefreshInterval time.Duration  `yaml:"refresh_interval"`
	} `yaml:"auth"`

	Site struct {
		Dir string `yaml:"dir"`
	} `yaml:"site"`
}

// AppConfig holds the configuration most recently loaded by LoadConfig.
var AppConfig Config

var configMu sync.RWMutex

// DefaultConfig returns a configuration that runs without Redis, Postgres or a
// static site, proxying the public BotWave repository.
func DefaultConfig() Config {
	var cfg Config
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = ":8080"
	cfg.Logger.Level = "info"
	cfg.Logger.MaxSizeMB = 10
	cfg.Logger.MaxBackups = 3
	cfg.Logger.MaxAgeDays = 7
	cfg.Upstream.VersionURL = DefaultVersionURL
	cfg.Upstream.UninstallURL = DefaultUninstallURL
	cfg.Upstream.UserAgent = DefaultUserAgent
	cfg.Upstream.Timeout = 10 * time.Second
	cfg.RateLimiter.Interval = time.Minute
	cfg.Auth.RefreshInterval = time.Minute
	return cfg
}

// LoadConfig reads the file named by CONFIG_PATH (or config.yaml) and stores
// the result in AppConfig. It panics on invalid configuration.
func LoadConfig() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return LoadConfigFrom(path)
}

// LoadConfigFrom is LoadConfig for an explicit path. A missing file yields the
// defaults.
func LoadConfigFrom(path string) Config {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	case err != nil:
		panic(fmt.Sprintf("read config %s: %v", path, err))
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			panic(fmt.Sprintf("parse config %s: %v", path, err))
		}
	}

	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("invalid config %s: %v", path, err))
	}

	configMu.Lock()
	AppConfig = cfg
	configMu.Unlock()
	return cfg
}

// GetConfig returns the active configuration.
func GetConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return AppConfig
}

// Validate reports the first invalid value in cfg.
func (cfg Config) Validate() error {
	if cfg.Upstream.VersionURL == "" {
		return errors.New("upstream.version_url is empty")
	}
	if cfg.Upstream.UninstallURL == "" {
		return errors.New("upstream.uninstall_url is empty")
	}
	if cfg.Upstream.Timeout <= 0 {
		return errors.New("upstream.timeout must be positive")
	}
	if cfg.RateLimiter.Interval <= 0 {
		return errors.New("rate_limiter.interval must be positive")
	}
	if cfg.RateLimiter.UserLimit < 0 {
		return errors.New("rate_limiter.user_limit must not be negative")
	}
	if cfg.Auth.RefreshInterval <= 0 {
		return errors.New("auth.refresh_interval must be positive")
	}
	return nil
}
