package cart

// Replay applies changes, in order, on top of base using the same rules as
// the store mutations that produced them. Product details for added lines
// come from the change snapshot.
func Replay(base Snapshot, changes []Change, policy QuantityPolicy) Snapshot {
	scratch := NewStore(WithQuantityPolicy(policy))
	scratch.Replace(base)
	for _, change := range changes {
		switch change.Kind {
		case ChangeAdd:
			product := Product{ID: change.ProductID}
			if line, ok := change.Snapshot.Find(change.ProductID); ok {
				product.Name = line.Name
				product.Price = line.UnitPrice
				product.StockCeiling = line.StockCeiling
			}
			_ = scratch.AddToCart(product, change.Quantity)
		case ChangeRemove:
			scratch.RemoveFromCart(change.ProductID)
		case ChangeUpdate:
			scratch.UpdateQuantity(change.ProductID, change.Quantity)
		case ChangeClear:
			scratch.ClearCart()
		case ChangeReplace:
			scratch.Replace(change.Snapshot)
		}
	}
	return scratch.Snapshot()
}
