package types

import "github.com/shopspring/decimal"

// CartLine is the wire shape of a cart line on GET /cart and PUT /cart.
// Name and Price are optional on PUT; the mirror echoes whatever it stored.
type CartLine struct {
	ProductID string           `json:"productId" validate:"required,max=128"`
	Quantity  int              `json:"quantity" validate:"gte=1"`
	Name      string           `json:"name,omitempty" validate:"max=256"`
	Price     *decimal.Decimal `json:"price,omitempty" validate:"omitempty,money"`
}

// PutCartRequest replaces the caller's server cart. Seq 0 is unsequenced.
type PutCartRequest struct {
	Cart []CartLine `json:"cart" validate:"unique=ProductID,dive"`
	Seq  int64      `json:"seq,omitempty" validate:"gte=0"`
}
