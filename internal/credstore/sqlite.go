package credstore

import (
	"context"
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Record is one persisted blob. ExpiresAt is zero for entries without expiry.
type Record struct {
	Key       string `gorm:"primaryKey"`
	Blob      []byte
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SQLite is the durable Store implementation, one row per key.
type SQLite struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) the credential database at dbPath and runs
// migrations.
func OpenSQLite(dbPath string) (*SQLite, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, err
	}
	return &SQLite{db: db}, nil
}

// NewSQLite wraps an already opened gorm DB. Used by tests with an in-memory
// database.
func NewSQLite(db *gorm.DB) (*SQLite, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var rec Record
	err := s.db.WithContext(ctx).First(&rec, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !rec.ExpiresAt.IsZero() && time.Now().After(rec.ExpiresAt) {
		s.db.WithContext(ctx).Delete(&Record{}, "key = ?", key)
		return nil, false, nil
	}
	return rec.Blob, true, nil
}

func (s *SQLite) Set(ctx context.Context, key string, blob []byte, ttl time.Duration) error {
	rec := Record{Key: key, Blob: blob}
	if ttl > 0 {
		rec.ExpiresAt = time.Now().Add(ttl)
	}
	return s.db.WithContext(ctx).Save(&rec).Error
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&Record{}, "key = ?", key).Error
}
