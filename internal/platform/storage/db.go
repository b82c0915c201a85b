package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"catalyzed-crm/internal/platform/storage/migrations"
)

// KVRecord is one durable key-value entry scoped by namespace.
type KVRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Namespace string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_kv_namespace_key"`
	Key       string    `gorm:"column:record_key;type:varchar(255);not null;uniqueIndex:idx_kv_namespace_key"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (KVRecord) TableName() string {
	return "kv_records"
}

// Open connects to the SQLite database at dsn and applies all migrations.
func Open(dsn string) (*gorm.DB, error) {
	db, err := Connect(dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Connect opens the SQLite database at dsn without touching the schema.
// File DSNs get their parent directory created.
func Connect(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is required")
	}
	if !strings.HasPrefix(dsn, "file:") && !strings.Contains(dsn, ":memory:") {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// NewManager returns a migration manager with every schema step registered.
func NewManager(db *gorm.DB) *MigrationManager {
	manager := NewMigrationManager(db)
	manager.AddMigration(&migrations.Migration001KVRecords{})
	return manager
}

// Migrate registers and runs the schema migrations.
func Migrate(db *gorm.DB) error {
	if err := NewManager(db).RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
