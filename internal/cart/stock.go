package cart

import (
	"errors"

	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
)

// ErrStockCeilingExceeded is wrapped by CheckStock failures.
var ErrStockCeilingExceeded = errors.New("stock ceiling exceeded")

// CheckStock reports whether requested stays within the advisory ceiling.
// The store never calls it; callers check before mutating and warn the user.
func CheckStock(productID string, ceiling *int, requested int) error {
	if ceiling == nil || requested <= *ceiling {
		return nil
	}
	return pkgerrors.Wrap(pkgerrors.CodeConflict, ErrStockCeilingExceeded, "requested quantity exceeds available stock").
		WithDetails(map[string]any{
			"product_id": productID,
			"requested":  requested,
			"ceiling":    *ceiling,
		})
}

// CheckAdd runs CheckStock for the quantity the line would hold after
// AddToCart(product, quantity).
func (s *Store) CheckAdd(product Product, quantity int) error {
	productID := NormalizeProductID(product.ID)
	current := 0
	ceiling := product.StockCeiling
	if line, ok := s.Snapshot().Find(productID); ok {
		current = line.Quantity
		if ceiling == nil {
			ceiling = line.StockCeiling
		}
	}
	return CheckStock(productID, ceiling, current+quantity)
}

// CheckUpdate runs CheckStock for UpdateQuantity(productID, quantity).
func (s *Store) CheckUpdate(productID string, quantity int) error {
	productID = NormalizeProductID(productID)
	line, ok := s.Snapshot().Find(productID)
	if !ok {
		return nil
	}
	return CheckStock(productID, line.StockCeiling, quantity)
}
