package reconcile

import "github.com/angelmondragon/storefront-cart/internal/cart"

// Merge folds server lines onto base. Lines present in both are summed;
// server-only lines are appended in server order. Neither input is modified.
func Merge(base, server cart.Snapshot) cart.Snapshot {
	merged := base.Clone()
	index := make(map[string]int, len(merged))
	for i, line := range merged {
		index[line.ProductID] = i
	}
	for _, line := range server {
		if idx, ok := index[line.ProductID]; ok {
			merged[idx].Quantity += line.Quantity
			if merged[idx].Name == "" {
				merged[idx].Name = line.Name
			}
			continue
		}
		index[line.ProductID] = len(merged)
		merged = append(merged, cart.Snapshot{line}.Clone()...)
	}
	return merged
}
