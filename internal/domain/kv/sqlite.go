package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"catalyzed-crm/internal/platform/storage"
)

type sqliteStore struct {
	db        *gorm.DB
	namespace string
}

// NewSQLite builds a SQLite-backed store. The kv_records table must already exist.
func NewSQLite(db *gorm.DB, cfg Config) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	return &sqliteStore{
		db:        db,
		namespace: cfg.Namespace,
	}, nil
}

func (s *sqliteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var record storage.KVRecord
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND record_key = ?", s.namespace, key).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return record.Value, true, nil
}

func (s *sqliteStore) Set(ctx context.Context, key, value string) error {
	record := &storage.KVRecord{
		Namespace: s.namespace,
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "record_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(record).Error
}

func (s *sqliteStore) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("namespace = ? AND record_key IN ?", s.namespace, keys).
		Delete(&storage.KVRecord{}).Error
}

func (s *sqliteStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).
		Model(&storage.KVRecord{}).
		Where("namespace = ?", s.namespace).
		Order("record_key").
		Pluck("record_key", &keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *sqliteStore) Stats(ctx context.Context) (map[string]any, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&storage.KVRecord{}).Where("namespace = ?", s.namespace).Count(&total).Error; err != nil {
		return nil, err
	}
	return map[string]any{
		"type":      DriverSQLite,
		"namespace": s.namespace,
		"total":     total,
	}, nil
}

// Close leaves the shared database handle open; its owner closes it.
func (s *sqliteStore) Close(context.Context) error {
	return nil
}
