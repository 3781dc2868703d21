package cart

import (
	"github.com/shopspring/decimal"
)

// Product is what the storefront knows about an item when it is added to the
// cart. Name and Price are captured into the line at add time.
type Product struct {
	ID           string
	Name         string
	Price        decimal.Decimal
	StockCeiling *int
}

// Line is one product's presence in a cart.
type Line struct {
	ProductID    string          `json:"productId"`
	Name         string          `json:"name"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	Quantity     int             `json:"quantity"`
	StockCeiling *int            `json:"stockCeiling,omitempty"`
}

// Subtotal returns UnitPrice × Quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (l Line) clone() Line {
	out := l
	if l.StockCeiling != nil {
		ceiling := *l.StockCeiling
		out.StockCeiling = &ceiling
	}
	return out
}

// Snapshot is an ordered, detached copy of a cart's lines.
type Snapshot []Line

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	out := make(Snapshot, len(s))
	for i, line := range s {
		out[i] = line.clone()
	}
	return out
}

// Find returns the line for productID.
func (s Snapshot) Find(productID string) (Line, bool) {
	for _, line := range s {
		if line.ProductID == productID {
			return line, true
		}
	}
	return Line{}, false
}

// Quantities maps productId to quantity.
func (s Snapshot) Quantities() map[string]int {
	out := make(map[string]int, len(s))
	for _, line := range s {
		out[line.ProductID] += line.Quantity
	}
	return out
}

// TotalQuantity sums the quantities of every line.
func (s Snapshot) TotalQuantity() int {
	total := 0
	for _, line := range s {
		total += line.Quantity
	}
	return total
}

// Subtotal sums every line subtotal.
func (s Snapshot) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range s {
		total = total.Add(line.Subtotal())
	}
	return total
}
