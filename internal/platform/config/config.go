package config

import (
	"time"
)

type Config struct {
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	Session SessionConfig `yaml:"session" mapstructure:"session"`
	HTTP    HTTPConfig    `yaml:"http" mapstructure:"http"`
}

type LogConfig struct {
	Level string `yaml:"log_level" mapstructure:"log_level"`
	Dir   string `yaml:"log_dir" mapstructure:"log_dir"`
	File  string `yaml:"log_file" mapstructure:"log_file"`
}

// StorageConfig selects the durable key-value driver.
type StorageConfig struct {
	Driver    string        `yaml:"driver" mapstructure:"driver"`
	Namespace string        `yaml:"namespace" mapstructure:"namespace"`
	SQLite    SQLiteStorage `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Redis     RedisStorage  `yaml:"redis,omitempty" mapstructure:"redis"`
}

type SQLiteStorage struct {
	DSN string `yaml:"dsn,omitempty" mapstructure:"dsn"`
}

type RedisStorage struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Username string `yaml:"username,omitempty" mapstructure:"username"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	DB       int    `yaml:"db,omitempty" mapstructure:"db"`
}

type SessionConfig struct {
	Duration    time.Duration   `yaml:"duration" mapstructure:"duration"`
	TokenSecret string          `yaml:"token_secret" mapstructure:"token_secret"`
	Issuer      string          `yaml:"issuer" mapstructure:"issuer"`
	Latency     time.Duration   `yaml:"latency" mapstructure:"latency"`
	Accounts    []AccountConfig `yaml:"accounts" mapstructure:"accounts"`
}

// AccountConfig seeds the account directory. SecretHash is a bcrypt hash.
type AccountConfig struct {
	ID          string        `yaml:"id" mapstructure:"id"`
	Name        string        `yaml:"name" mapstructure:"name"`
	Email       string        `yaml:"email" mapstructure:"email"`
	Avatar      string        `yaml:"avatar,omitempty" mapstructure:"avatar"`
	Role        string        `yaml:"role" mapstructure:"role"`
	Permissions []string      `yaml:"permissions" mapstructure:"permissions"`
	SecretHash  string        `yaml:"secret_hash" mapstructure:"secret_hash"`
	Client      *ClientConfig `yaml:"client,omitempty" mapstructure:"client"`
}

type ClientConfig struct {
	ID   string `yaml:"id" mapstructure:"id"`
	Name string `yaml:"name" mapstructure:"name"`
	Logo string `yaml:"logo,omitempty" mapstructure:"logo"`
}

type HTTPConfig struct {
	Enabled        bool     `yaml:"enabled" mapstructure:"enabled"`
	Addr           string   `yaml:"addr" mapstructure:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	// StaticDir, when set, is served at / for a bundled web client.
	StaticDir string `yaml:"static_dir,omitempty" mapstructure:"static_dir"`
}
