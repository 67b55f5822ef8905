// Package config loads the users-mcp process configuration: an optional
// YAML file, then USERS_* environment overrides, then defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the complete process configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
	Server  ServerConfig  `yaml:"server"`
}

// StoreConfig selects and configures the document holding the records.
type StoreConfig struct {
	Backend string `yaml:"backend" env:"USERS_STORE_BACKEND"`
	Path    string `yaml:"path" env:"USERS_STORE_PATH"`

	RedisAddr string `yaml:"redis_addr" env:"USERS_REDIS_ADDR"`
	RedisKey  string `yaml:"redis_key" env:"USERS_REDIS_KEY"`

	// Watch turns on change notifications for edits made outside the
	// process. Defaults to true.
	Watch bool `yaml:"watch" env:"USERS_STORE_WATCH"`

	WatchDebounce    time.Duration `yaml:"-"`
	WatchDebounceRaw string        `yaml:"watch_debounce" env:"USERS_STORE_WATCH_DEBOUNCE"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"USERS_LOG_LEVEL"`
	Format string `yaml:"format" env:"USERS_LOG_FORMAT"`
}

// ServerConfig is what the server reports about itself during initialize.
type ServerConfig struct {
	Name         string `yaml:"name" env:"USERS_SERVER_NAME"`
	Version      string `yaml:"version" env:"USERS_SERVER_VERSION"`
	Instructions string `yaml:"instructions" env:"USERS_SERVER_INSTRUCTIONS"`
}

// Load builds a Config. path may be empty, in which case only the
// environment and defaults apply; a named file that cannot be read is an
// error.
func Load(path string) (*Config, error) {
	cfg := Config{Store: StoreConfig{Watch: true}}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := envdecode.StrictDecode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	cfg.applyDefaults()

	if cfg.Store.WatchDebounceRaw != "" {
		d, err := time.ParseDuration(cfg.Store.WatchDebounceRaw)
		if err != nil {
			return nil, fmt.Errorf("parsing watch_debounce %q: %w", cfg.Store.WatchDebounceRaw, err)
		}
		cfg.Store.WatchDebounce = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value, or nothing when
// it is unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = BackendFile
	}
	if c.Store.Path == "" {
		c.Store.Path = "./data/users.json"
	}
	if c.Store.RedisAddr == "" {
		c.Store.RedisAddr = "localhost:6379"
	}
	if c.Store.RedisKey == "" {
		c.Store.RedisKey = "mcp:users:document"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Server.Name == "" {
		c.Server.Name = "users"
	}
	if c.Server.Version == "" {
		c.Server.Version = "1.0.0"
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendFile:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the file backend")
		}
	case BackendMemory:
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("store.backend %q is not one of file, memory, redis", c.Store.Backend)
	}

	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}
	if c.Store.WatchDebounce < 0 {
		return fmt.Errorf("store.watch_debounce must not be negative")
	}
	return nil
}

// SlogLevel parses Logging.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return 0, fmt.Errorf("logging.level %q: %w", c.Logging.Level, err)
	}
	return lv, nil
}
