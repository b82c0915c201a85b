package config

import "time"

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "crm.log",
		},
		Storage: StorageConfig{
			Driver:    "memory",
			Namespace: "crm:",
			SQLite: SQLiteStorage{
				DSN: "data/crm.db",
			},
		},
		Session: SessionConfig{
			Duration: 8 * time.Hour,
			Issuer:   "catalyzed-crm",
		},
		HTTP: HTTPConfig{
			Enabled:        true,
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
		},
	}
}
