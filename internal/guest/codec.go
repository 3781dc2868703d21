package guest

import (
	"encoding/json"
	"fmt"

	"github.com/angelmondragon/storefront-cart/internal/cart"
)

// Encode renders lines as the JSON array stored under the guest key.
func Encode(lines cart.Snapshot) ([]byte, error) {
	if lines == nil {
		lines = cart.Snapshot{}
	}
	return json.Marshal([]cart.Line(lines))
}

// Decode parses a stored guest cart.
func Decode(data []byte) (cart.Snapshot, error) {
	var lines []cart.Line
	if err := json.Unmarshal(data, &lines); err != nil {
		return nil, err
	}
	for i, line := range lines {
		if line.ProductID == "" {
			return nil, fmt.Errorf("line %d: missing productId", i)
		}
	}
	return cart.Snapshot(lines), nil
}
