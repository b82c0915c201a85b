// Package kv is the durable key-value layer behind the client stores.
// Absence of a key is a normal state and is reported as ok=false, never as an error.
package kv

import (
	"context"
)

// Store defines the behaviour required by the preferences and session stores.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, keys ...string) error
	Keys(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (map[string]any, error)
	Close(ctx context.Context) error
}

// Config describes the high level store selection parameters.
type Config struct {
	Driver    string
	Namespace string
	Redis     *RedisConfig
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// Fixed record keys shared by the client stores.
const (
	KeyPreferences   = "catalyzed-crm-settings"
	KeyAuthToken     = "auth-token"
	KeyUserData      = "user-data"
	KeySessionExpiry = "session-expiry"
)
