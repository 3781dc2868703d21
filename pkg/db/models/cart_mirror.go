package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartMirror is the server copy of a user's cart. Seq is the highest snapshot
// sequence accepted so far; writes carrying a lower or equal seq are stale.
type CartMirror struct {
	UserID    string           `gorm:"column:user_id;primaryKey"`
	Seq       int64            `gorm:"column:seq;not null;default:0"`
	Lines     []CartMirrorLine `gorm:"foreignKey:UserID;references:UserID"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (CartMirror) TableName() string { return "cart_mirrors" }

// CartMirrorLine persists one product line of a CartMirror in push order.
type CartMirrorLine struct {
	ID        uuid.UUID       `gorm:"column:id;type:text;primaryKey"`
	UserID    string          `gorm:"column:user_id;not null"`
	Position  int             `gorm:"column:position;not null"`
	ProductID string          `gorm:"column:product_id;not null"`
	Name      string          `gorm:"column:name;not null;default:''"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null;default:0"`
	Quantity  int             `gorm:"column:quantity;not null"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (CartMirrorLine) TableName() string { return "cart_mirror_lines" }
