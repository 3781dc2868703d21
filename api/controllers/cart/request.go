package cart

import (
	"github.com/angelmondragon/storefront-cart/api/validators"
	"github.com/angelmondragon/storefront-cart/internal/mirror"
	"github.com/angelmondragon/storefront-cart/pkg/types"
	"github.com/shopspring/decimal"
)

const maxNameLen = 256

func toReplaceInput(payload types.PutCartRequest) mirror.ReplaceInput {
	lines := make([]mirror.LineInput, 0, len(payload.Cart))
	for _, line := range payload.Cart {
		price := decimal.Zero
		if line.Price != nil {
			price = *line.Price
		}
		lines = append(lines, mirror.LineInput{
			ProductID: validators.SanitizeString(line.ProductID, 0),
			Name:      validators.SanitizeString(line.Name, maxNameLen),
			Price:     price,
			Quantity:  line.Quantity,
		})
	}
	return mirror.ReplaceInput{Seq: payload.Seq, Lines: lines}
}
