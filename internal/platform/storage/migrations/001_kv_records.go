package migrations

import (
	"gorm.io/gorm"
)

// Migration001KVRecords creates the namespaced key-value table.
type Migration001KVRecords struct{}

func (m *Migration001KVRecords) Version() string {
	return "001_kv_records"
}

func (m *Migration001KVRecords) Description() string {
	return "Create kv_records table for durable client state"
}

func (m *Migration001KVRecords) Up(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			namespace VARCHAR(255) NOT NULL,
			record_key VARCHAR(255) NOT NULL,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`).Error; err != nil {
		return err
	}
	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_kv_namespace_key ON kv_records(namespace, record_key)`).Error
}

func (m *Migration001KVRecords) Down(db *gorm.DB) error {
	return db.Exec(`DROP TABLE IF EXISTS kv_records`).Error
}
