package mirror

import (
	"context"
	"time"

	"github.com/angelmondragon/storefront-cart/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists server-side cart mirrors.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a mirror repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) MirrorRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindByUser loads the mirror and its lines in push order.
func (r *Repository) FindByUser(ctx context.Context, userID string) (*models.CartMirror, error) {
	var mirror models.CartMirror
	err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("user_id = ?", userID).
		First(&mirror).Error
	if err != nil {
		return nil, err
	}
	return &mirror, nil
}

// Ensure creates an empty mirror row for userID if none exists.
func (r *Repository) Ensure(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.CartMirror{UserID: userID}).Error
}

// AdvanceSeq stores seq if it is greater than the current one. When the
// stored seq is already equal or newer it returns false and the stored seq.
func (r *Repository) AdvanceSeq(ctx context.Context, userID string, seq int64) (bool, int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CartMirror{}).
		Where("user_id = ? AND seq < ?", userID, seq).
		Updates(map[string]any{"seq": seq, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, 0, res.Error
	}
	if res.RowsAffected == 1 {
		return true, seq, nil
	}
	var stored int64
	if err := r.db.WithContext(ctx).
		Model(&models.CartMirror{}).
		Where("user_id = ?", userID).
		Select("seq").
		Scan(&stored).Error; err != nil {
		return false, 0, err
	}
	return false, stored, nil
}

// Touch bumps updated_at without changing seq.
func (r *Repository) Touch(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).
		Model(&models.CartMirror{}).
		Where("user_id = ?", userID).
		Update("updated_at", time.Now().UTC()).Error
}

// ReplaceLines deletes the user's lines and inserts lines in order.
func (r *Repository) ReplaceLines(ctx context.Context, userID string, lines []models.CartMirrorLine) error {
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.CartMirrorLine{}).Error; err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}
	for i := range lines {
		lines[i].UserID = userID
		lines[i].Position = i
		if lines[i].ID == uuid.Nil {
			lines[i].ID = uuid.New()
		}
	}
	return r.db.WithContext(ctx).Create(&lines).Error
}
