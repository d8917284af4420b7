// Package config loads the static process configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/router-for-me/ProxyPool/internal/util"
	"gopkg.in/yaml.v3"
)

// ConfigPathEnv overrides the config file location when no flag is given.
const ConfigPathEnv = "PROXYPOOL_CONFIG"

// DefaultConfigPath is used when neither the flag nor the env variable is set.
const DefaultConfigPath = "config.yaml"

// AppConfig carries process-level options resolved from the command line.
type AppConfig struct {
	ConfigPath string
}

// Config is the full YAML document.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Access    AccessConfig    `yaml:"access"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Probe     ProbeConfig     `yaml:"probe"`
	Fetch     FetchConfig     `yaml:"fetch"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects the store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // postgres:// URL, key=value DSN or SQLite path
}

// RedisConfig enables the Redis stream event sink.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // text | json
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// AccessConfig guards the HTTP API.
type AccessConfig struct {
	TokenHash string `yaml:"token_hash"` // bcrypt hash; empty disables the check
}

// SchedulerConfig sets the background job intervals.
type SchedulerConfig struct {
	ProxyCheckInterval  time.Duration `yaml:"proxy_check_interval"`
	SourceCheckInterval time.Duration `yaml:"source_check_interval"`
}

// ProbeConfig tunes the external-IP probe.
type ProbeConfig struct {
	Services  []string `yaml:"services"`
	UserAgent string   `yaml:"user_agent"`
}

// FetchConfig tunes remote entry list downloads.
type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// ResolveConfigPath picks the config file: explicit path, then env, then the default.
func ResolveConfigPath(path string) string {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return filepath.Clean(trimmed)
	}
	if env := strings.TrimSpace(os.Getenv(ConfigPathEnv)); env != "" {
		return filepath.Clean(env)
	}
	if writable := util.WritablePath(); writable != "" {
		return filepath.Join(writable, DefaultConfigPath)
	}
	return DefaultConfigPath
}

// ConfigExists reports whether a config file is present at path.
func ConfigExists(path string) bool {
	info, errStat := os.Stat(path)
	return errStat == nil && !info.IsDir()
}

// Load reads the YAML file at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, errRead := os.ReadFile(path)
	if errRead != nil {
		if errors.Is(errRead, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, errRead)
	}

	var cfg Config
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadDatabaseDSN returns only the database DSN from the config file.
func LoadDatabaseDSN(path string) (string, error) {
	cfg, errLoad := Load(path)
	if errLoad != nil {
		return "", errLoad
	}
	return cfg.Database.DSN, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		c.Database.DSN = defaultDSN()
	}
	if strings.TrimSpace(c.Redis.Address) == "" {
		c.Redis.Address = "127.0.0.1:6379"
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Logging.Format) == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays <= 0 {
		c.Logging.MaxAgeDays = 30
	}
	if c.Scheduler.ProxyCheckInterval <= 0 {
		c.Scheduler.ProxyCheckInterval = time.Second
	}
	if c.Scheduler.SourceCheckInterval <= 0 {
		c.Scheduler.SourceCheckInterval = 60 * time.Second
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 10 * time.Second
	}
}

func defaultDSN() string {
	if writable := util.WritablePath(); writable != "" {
		return filepath.Join(writable, "data", "proxypool.db")
	}
	return filepath.Join("data", "proxypool.db")
}
