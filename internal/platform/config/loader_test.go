package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func noEnv(string) (string, bool) { return "", false }

func TestLoader_Load(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.yaml")

	configContent := `
log:
  log_level: "DEBUG"
  log_dir: "/tmp/logs"
  log_file: "test.log"
storage:
  driver: sqlite
  sqlite:
    dsn: "file::memory:?cache=shared"
session:
  duration: 2h
  token_secret: "s3cret"
  accounts:
    - id: "1"
      name: "Admin User"
      email: "admin@example.com"
      role: ADMIN
      secret_hash: "$2a$10$abcdefghijklmnopqrstuu"
      permissions: [create_users, manage_billing]
http:
  enabled: false
  addr: ":9090"
`
	if err := os.WriteFile(configFile, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	res, err := NewLoader().WithDotEnv(false).WithEnv(noEnv).WithPath(configFile).Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	cfg := res.Config

	if res.Path != configFile {
		t.Errorf("expected path %s, got %s", configFile, res.Path)
	}
	if cfg.Log.Level != "DEBUG" {
		t.Errorf("expected log level DEBUG, got %s", cfg.Log.Level)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %s", cfg.Storage.Driver)
	}
	if cfg.Session.Duration != 2*time.Hour {
		t.Errorf("expected 2h session, got %s", cfg.Session.Duration)
	}
	if len(cfg.Session.Accounts) != 1 || cfg.Session.Accounts[0].Role != "ADMIN" {
		t.Errorf("unexpected accounts: %+v", cfg.Session.Accounts)
	}
	if cfg.HTTP.Enabled || cfg.HTTP.Addr != ":9090" {
		t.Errorf("unexpected http config: %+v", cfg.HTTP)
	}
	if cfg.Session.Issuer != "catalyzed-crm" {
		t.Errorf("expected default issuer to survive, got %q", cfg.Session.Issuer)
	}
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	res, err := NewLoader().
		WithDotEnv(false).
		WithEnv(noEnv).
		WithPath(filepath.Join(t.TempDir(), "absent.yaml")).
		Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if res.Path != "" {
		t.Errorf("expected empty path, got %q", res.Path)
	}
	if res.Config.Session.Duration != 8*time.Hour {
		t.Errorf("expected default 8h session, got %s", res.Config.Session.Duration)
	}
}

func TestLoader_EnvOverrides(t *testing.T) {
	env := map[string]string{
		"CRM_STORAGE_DRIVER": "redis",
		"CRM_REDIS_ADDR":     "127.0.0.1:6379",
		"CRM_REDIS_DB":       "3",
		"CRM_TOKEN_SECRET":   "from-env",
		"CRM_HTTP_ENABLED":   "false",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	res, err := NewLoader().
		WithDotEnv(false).
		WithEnv(lookup).
		WithPath(filepath.Join(t.TempDir(), "absent.yaml")).
		Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	cfg := res.Config
	if cfg.Storage.Driver != "redis" || cfg.Storage.Redis.Addr != "127.0.0.1:6379" || cfg.Storage.Redis.DB != 3 {
		t.Errorf("unexpected storage config: %+v", cfg.Storage)
	}
	if cfg.Session.TokenSecret != "from-env" {
		t.Errorf("expected token secret override, got %q", cfg.Session.TokenSecret)
	}
	if cfg.HTTP.Enabled {
		t.Errorf("expected http disabled")
	}
}

func TestLoader_Validate(t *testing.T) {
	loader := NewLoader()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Storage.Driver = "etcd" },
			wantErr: true,
		},
		{
			name:    "redis without addr",
			mutate:  func(c *Config) { c.Storage.Driver = "redis" },
			wantErr: true,
		},
		{
			name:    "zero session duration",
			mutate:  func(c *Config) { c.Session.Duration = 0 },
			wantErr: true,
		},
		{
			name: "account without hash",
			mutate: func(c *Config) {
				c.Session.Accounts = []AccountConfig{{Email: "a@b.c"}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := loader.Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
