package cart

import (
	"github.com/angelmondragon/storefront-cart/internal/mirror"
	"github.com/angelmondragon/storefront-cart/pkg/types"
)

func newCartLines(lines []mirror.LineInput) []types.CartLine {
	out := make([]types.CartLine, 0, len(lines))
	for _, line := range lines {
		price := line.Price
		out = append(out, types.CartLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Name:      line.Name,
			Price:     &price,
		})
	}
	return out
}
