package mirror

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/storefront-cart/pkg/db"
	"github.com/angelmondragon/storefront-cart/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/angelmondragon/storefront-cart/pkg/metrics"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes the server copy of each user's cart.
type Service interface {
	GetCart(ctx context.Context, userID string) ([]LineInput, error)
	ReplaceCart(ctx context.Context, userID string, input ReplaceInput) error
}

// LineInput is one line of a replace request or a stored cart.
type LineInput struct {
	ProductID string
	Name      string
	Price     decimal.Decimal
	Quantity  int
}

// ReplaceInput is a full-overwrite snapshot. Seq 0 is applied unconditionally.
type ReplaceInput struct {
	Seq   int64
	Lines []LineInput
}

type service struct {
	repo    MirrorRepository
	tx      txRunner
	metrics *metrics.CartMetrics
}

// NewService builds a mirror service backed by the provided stack.
func NewService(repo MirrorRepository, tx txRunner, m *metrics.CartMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("mirror repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx, metrics: m}, nil
}

// GetCart returns the stored lines; a user with no mirror has an empty cart.
func (s *service) GetCart(ctx context.Context, userID string) ([]LineInput, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	mirror, err := s.repo.FindByUser(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []LineInput{}, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart mirror")
	}
	out := make([]LineInput, 0, len(mirror.Lines))
	for _, line := range mirror.Lines {
		out = append(out, LineInput{
			ProductID: line.ProductID,
			Name:      line.Name,
			Price:     line.Price,
			Quantity:  line.Quantity,
		})
	}
	return out, nil
}

// ReplaceCart overwrites the user's cart. Sequenced writes that are not newer
// than the stored seq are rejected with CodeStaleWrite.
func (s *service) ReplaceCart(ctx context.Context, userID string, input ReplaceInput) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.Seq < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "seq must be non-negative")
	}
	lines, err := buildLines(input.Lines)
	if err != nil {
		return err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Ensure(ctx, userID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ensure cart mirror")
		}
		if input.Seq > 0 {
			advanced, stored, err := repo.AdvanceSeq(ctx, userID, input.Seq)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "advance cart seq")
			}
			if !advanced {
				return pkgerrors.New(pkgerrors.CodeStaleWrite, "cart write superseded by a newer snapshot").
					WithDetails(map[string]any{"seq": input.Seq, "stored_seq": stored})
			}
		} else if err := repo.Touch(ctx, userID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "touch cart mirror")
		}
		if err := repo.ReplaceLines(ctx, userID, lines); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "duplicate product in cart")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "replace cart lines")
		}
		return nil
	})

	switch {
	case err == nil:
		s.metrics.IncMirrorWrite(metrics.ResultSuccess)
	case pkgerrors.IsCode(err, pkgerrors.CodeStaleWrite):
		s.metrics.IncMirrorWrite(metrics.ResultStale)
	default:
		s.metrics.IncMirrorWrite(metrics.ResultFailure)
	}
	return err
}

func buildLines(input []LineInput) ([]models.CartMirrorLine, error) {
	seen := make(map[string]struct{}, len(input))
	out := make([]models.CartMirrorLine, 0, len(input))
	for i, line := range input {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "productId is required").
				WithDetails(map[string]any{"index": i})
		}
		if line.Quantity < 1 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1").
				WithDetails(map[string]any{"index": i, "productId": productID})
		}
		if line.Price.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must be non-negative").
				WithDetails(map[string]any{"index": i, "productId": productID})
		}
		if _, dup := seen[productID]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "duplicate productId in cart").
				WithDetails(map[string]any{"index": i, "productId": productID})
		}
		seen[productID] = struct{}{}
		out = append(out, models.CartMirrorLine{
			ProductID: productID,
			Name:      line.Name,
			Price:     line.Price,
			Quantity:  line.Quantity,
		})
	}
	return out, nil
}
