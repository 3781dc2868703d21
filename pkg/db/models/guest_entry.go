package models

import "time"

// GuestStorageEntry is one key of the device-local guest storage table.
type GuestStorageEntry struct {
	Key       string    `gorm:"column:storage_key;primaryKey"`
	Value     string    `gorm:"column:value;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (GuestStorageEntry) TableName() string { return "guest_storage" }
