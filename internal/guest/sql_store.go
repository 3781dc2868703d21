package guest

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/storefront-cart/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLStore persists guest state in a key/value table, typically a sqlite file
// on the device.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore ensures the guest_storage table exists.
func NewSQLStore(ctx context.Context, db *gorm.DB) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db is required")
	}
	if err := db.WithContext(ctx).AutoMigrate(&models.GuestStorageEntry{}); err != nil {
		return nil, fmt.Errorf("migrate guest storage: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var entry models.GuestStorageEntry
	err := s.db.WithContext(ctx).Where("storage_key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(entry.Value), true, nil
}

func (s *SQLStore) Save(ctx context.Context, key string, value []byte) error {
	entry := models.GuestStorageEntry{Key: key, Value: string(value)}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "storage_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("storage_key = ?", key).Delete(&models.GuestStorageEntry{}).Error
}
