package mirror

import (
	"context"

	"github.com/angelmondragon/storefront-cart/pkg/db/models"
	"gorm.io/gorm"
)

// MirrorRepository defines the persistence surface required by the mirror service.
type MirrorRepository interface {
	WithTx(tx *gorm.DB) MirrorRepository
	FindByUser(ctx context.Context, userID string) (*models.CartMirror, error)
	Ensure(ctx context.Context, userID string) error
	AdvanceSeq(ctx context.Context, userID string, seq int64) (advanced bool, stored int64, err error)
	Touch(ctx context.Context, userID string) error
	ReplaceLines(ctx context.Context, userID string, lines []models.CartMirrorLine) error
}
