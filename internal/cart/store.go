package cart

import (
	"strings"
	"sync"

	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
)

// ChangeKind names the mutation that produced a Change.
type ChangeKind string

const (
	ChangeAdd     ChangeKind = "add"
	ChangeRemove  ChangeKind = "remove"
	ChangeUpdate  ChangeKind = "update"
	ChangeClear   ChangeKind = "clear"
	ChangeReplace ChangeKind = "replace"
)

// Change is delivered to observers after every effective mutation.
// Quantity is the amount added for ChangeAdd and the quantity set for
// ChangeUpdate.
type Change struct {
	Kind      ChangeKind
	ProductID string
	Quantity  int
	Version   uint64
	Snapshot  Snapshot
}

// Observer receives changes synchronously. Observers must not mutate the store.
type Observer func(Change)

// Option configures a Store.
type Option func(*Store)

// WithQuantityPolicy sets how UpdateQuantity treats non-positive quantities.
func WithQuantityPolicy(policy QuantityPolicy) Option {
	return func(s *Store) {
		s.policy = policy
	}
}

type subscription struct {
	id int
	fn Observer
}

// Store owns the in-memory list of cart lines.
type Store struct {
	// dispatch serialises mutation plus notification so observers see
	// changes in mutation order.
	dispatch sync.Mutex
	mu       sync.RWMutex

	lines     []Line
	version   uint64
	policy    QuantityPolicy
	observers []subscription
	nextID    int
}

// NewStore returns an empty cart.
func NewStore(opts ...Option) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the configured quantity policy.
func (s *Store) Policy() QuantityPolicy {
	return s.policy
}

// Snapshot returns a detached copy of the lines in insertion order.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot(s.lines).Clone()
}

// Version counts effective mutations. It changes whenever Snapshot would.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Len returns the number of lines.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lines)
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Observer) func() {
	if fn == nil {
		return func() {}
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.observers = append(s.observers, subscription{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.observers {
				if sub.id == id {
					s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// AddToCart appends a line for product or increments the existing one.
// Stock ceilings are advisory and not enforced here; see CheckAdd.
func (s *Store) AddToCart(product Product, quantity int) error {
	productID := NormalizeProductID(product.ID)
	if productID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if quantity < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1").
			WithDetails(map[string]any{"product_id": productID, "quantity": quantity})
	}

	s.mutate(ChangeAdd, productID, quantity, func() bool {
		if idx := s.indexLocked(productID); idx >= 0 {
			s.lines[idx].Quantity += quantity
			if product.StockCeiling != nil {
				s.lines[idx].StockCeiling = product.StockCeiling
			}
			return true
		}
		line := Line{
			ProductID:    productID,
			Name:         product.Name,
			UnitPrice:    product.Price,
			Quantity:     quantity,
			StockCeiling: product.StockCeiling,
		}
		s.lines = append(s.lines, line.clone())
		return true
	})
	return nil
}

// RemoveFromCart deletes the line for productID. Unknown ids are ignored.
func (s *Store) RemoveFromCart(productID string) {
	productID = NormalizeProductID(productID)
	s.mutate(ChangeRemove, productID, 0, func() bool {
		idx := s.indexLocked(productID)
		if idx < 0 {
			return false
		}
		s.removeLocked(idx)
		return true
	})
}

// UpdateQuantity sets a line's quantity directly. Unknown ids are ignored.
// Non-positive quantities follow the store's QuantityPolicy.
func (s *Store) UpdateQuantity(productID string, quantity int) {
	productID = NormalizeProductID(productID)
	s.mutate(ChangeUpdate, productID, quantity, func() bool {
		idx := s.indexLocked(productID)
		if idx < 0 {
			return false
		}
		if quantity <= 0 && s.policy == RemoveNonPositive {
			s.removeLocked(idx)
			return true
		}
		if s.lines[idx].Quantity == quantity {
			return false
		}
		s.lines[idx].Quantity = quantity
		return true
	})
}

// ClearCart empties the cart.
func (s *Store) ClearCart() {
	s.mutate(ChangeClear, "", 0, func() bool {
		s.lines = nil
		return true
	})
}

// Replace installs lines as the whole cart. Duplicate product ids are summed
// into the first occurrence.
func (s *Store) Replace(lines []Line) {
	normalized := normalize(lines, s.policy)
	s.mutate(ChangeReplace, "", 0, func() bool {
		s.lines = normalized
		return true
	})
}

// Reconcile replaces the cart with fn(current) as one mutation: no other
// mutation can land between reading current and installing the result. fn
// must not call back into the store. It returns the installed snapshot and
// the version it was installed at.
func (s *Store) Reconcile(fn func(current Snapshot) []Line) (Snapshot, uint64) {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	normalized := normalize(fn(s.Snapshot()), s.policy)
	change := s.applyLocked(ChangeReplace, "", 0, func() bool {
		s.lines = normalized
		return true
	})
	return change.Snapshot.Clone(), change.Version
}

func (s *Store) mutate(kind ChangeKind, productID string, quantity int, apply func() bool) {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()
	s.applyLocked(kind, productID, quantity, apply)
}

// applyLocked runs apply and notifies observers. The caller holds dispatch.
func (s *Store) applyLocked(kind ChangeKind, productID string, quantity int, apply func() bool) Change {
	s.mu.Lock()
	changed := apply()
	if !changed {
		change := Change{Version: s.version, Snapshot: Snapshot(s.lines).Clone()}
		s.mu.Unlock()
		return change
	}
	s.version++
	change := Change{
		Kind:      kind,
		ProductID: productID,
		Quantity:  quantity,
		Version:   s.version,
		Snapshot:  Snapshot(s.lines).Clone(),
	}
	observers := make([]Observer, len(s.observers))
	for i, sub := range s.observers {
		observers[i] = sub.fn
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(change)
	}
	return change
}

func (s *Store) indexLocked(productID string) int {
	for i, line := range s.lines {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}

func (s *Store) removeLocked(idx int) {
	s.lines = append(s.lines[:idx:idx], s.lines[idx+1:]...)
}

func normalize(lines []Line, policy QuantityPolicy) []Line {
	out := make([]Line, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, line := range lines {
		line.ProductID = NormalizeProductID(line.ProductID)
		if line.ProductID == "" {
			continue
		}
		if idx, ok := index[line.ProductID]; ok {
			out[idx].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(out)
		out = append(out, line.clone())
	}
	if policy == KeepNonPositive {
		return out
	}
	kept := out[:0]
	for _, line := range out {
		if line.Quantity > 0 {
			kept = append(kept, line)
		}
	}
	return kept
}

// NormalizeProductID is the form product ids are stored and looked up in.
func NormalizeProductID(id string) string {
	return strings.TrimSpace(id)
}
