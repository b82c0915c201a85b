package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when the loader is not given an explicit file.
const DefaultPath = "config.yaml"

// Loader reads a YAML file over DefaultConfig and applies CRM_* environment overrides.
type Loader struct {
	path      string
	useDotEnv bool
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader for DefaultPath with .env support enabled.
func NewLoader() *Loader {
	return &Loader{
		path:      DefaultPath,
		useDotEnv: true,
		lookupEnv: os.LookupEnv,
	}
}

// WithPath overrides the configuration file location.
func (l *Loader) WithPath(path string) *Loader {
	if path != "" {
		l.path = path
	}
	return l
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithEnv replaces the environment lookup (useful for tests).
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	if lookup != nil {
		l.lookupEnv = lookup
	}
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load builds the configuration. A missing file is not an error.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		// .env is optional
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	path := l.path
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		path = ""
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := l.Validate(cfg); err != nil {
		return nil, err
	}
	return &Result{Config: cfg, Path: path}, nil
}

func (l *Loader) applyEnv(cfg *Config) error {
	if v, ok := l.lookupEnv("CRM_LOG_LEVEL"); ok && v != "" {
		cfg.Log.Level = v
	}
	if v, ok := l.lookupEnv("CRM_STORAGE_DRIVER"); ok && v != "" {
		cfg.Storage.Driver = v
	}
	if v, ok := l.lookupEnv("CRM_SQLITE_DSN"); ok && v != "" {
		cfg.Storage.SQLite.DSN = v
	}
	if v, ok := l.lookupEnv("CRM_REDIS_ADDR"); ok && v != "" {
		cfg.Storage.Redis.Addr = v
	}
	if v, ok := l.lookupEnv("CRM_REDIS_PASSWORD"); ok && v != "" {
		cfg.Storage.Redis.Password = v
	}
	if v, ok := l.lookupEnv("CRM_REDIS_DB"); ok && v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CRM_REDIS_DB: %w", err)
		}
		cfg.Storage.Redis.DB = db
	}
	if v, ok := l.lookupEnv("CRM_TOKEN_SECRET"); ok && v != "" {
		cfg.Session.TokenSecret = v
	}
	if v, ok := l.lookupEnv("CRM_HTTP_ADDR"); ok && v != "" {
		cfg.HTTP.Addr = v
	}
	if v, ok := l.lookupEnv("CRM_HTTP_ENABLED"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CRM_HTTP_ENABLED: %w", err)
		}
		cfg.HTTP.Enabled = enabled
	}
	return nil
}

// Validate rejects configurations the service cannot start with.
func (l *Loader) Validate(cfg *Config) error {
	switch strings.ToLower(cfg.Storage.Driver) {
	case "", "memory":
	case "sqlite":
		if cfg.Storage.SQLite.DSN == "" {
			return fmt.Errorf("storage.sqlite.dsn is required for the sqlite driver")
		}
	case "redis":
		if cfg.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
	}
	if cfg.Session.Duration <= 0 {
		return fmt.Errorf("session.duration must be positive")
	}
	for i, acc := range cfg.Session.Accounts {
		if acc.Email == "" || acc.SecretHash == "" {
			return fmt.Errorf("session.accounts[%d]: email and secret_hash are required", i)
		}
	}
	return nil
}
