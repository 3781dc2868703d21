package guest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/angelmondragon/storefront-cart/internal/cart"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
)

// Adapter mirrors the cart store into a Backend while the shopper is a guest.
type Adapter struct {
	backend Backend
	key     string
	logg    *logger.Logger

	enabled atomic.Bool
	// saves serialises writes so the last notification wins.
	saves sync.Mutex
}

// NewAdapter returns an enabled adapter. An empty key uses DefaultStorageKey.
func NewAdapter(backend Backend, key string, logg *logger.Logger) (*Adapter, error) {
	if backend == nil {
		return nil, fmt.Errorf("guest backend is required")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultStorageKey
	}
	a := &Adapter{backend: backend, key: key, logg: logg}
	a.enabled.Store(true)
	return a, nil
}

func (a *Adapter) Key() string {
	return a.key
}

// Enable resumes persisting changes.
func (a *Adapter) Enable() {
	a.enabled.Store(true)
}

// Disable stops persisting changes; used once the cart is server-backed.
func (a *Adapter) Disable() {
	a.enabled.Store(false)
}

func (a *Adapter) Enabled() bool {
	return a.enabled.Load()
}

// Load returns the stored guest cart. Missing or undecodable state yields an
// empty snapshot.
func (a *Adapter) Load(ctx context.Context) (cart.Snapshot, error) {
	data, ok, err := a.backend.Load(ctx, a.key)
	if err != nil {
		return cart.Snapshot{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load guest cart")
	}
	if !ok || len(data) == 0 {
		return cart.Snapshot{}, nil
	}
	lines, err := Decode(data)
	if err != nil {
		if a.logg != nil {
			ctx = a.logg.WithField(ctx, "storage_key", a.key)
			a.logg.Warn(ctx, "discarding unreadable guest cart: "+err.Error())
		}
		return cart.Snapshot{}, nil
	}
	return lines, nil
}

// Hydrate installs the stored guest cart into store and reports whether any
// lines were restored.
func (a *Adapter) Hydrate(ctx context.Context, store *cart.Store) (bool, error) {
	lines, err := a.Load(ctx)
	if err != nil {
		return false, err
	}
	if len(lines) == 0 {
		return false, nil
	}
	store.Replace(lines)
	return true, nil
}

// Observe persists the full snapshot carried by change. It is meant to be
// passed to cart.Store.Subscribe.
func (a *Adapter) Observe(change cart.Change) {
	if !a.Enabled() {
		return
	}
	if err := a.Save(context.Background(), change.Snapshot); err != nil && a.logg != nil {
		a.logg.Error(context.Background(), "persist guest cart", err)
	}
}

// Save writes lines under the storage key.
func (a *Adapter) Save(ctx context.Context, lines cart.Snapshot) error {
	data, err := Encode(lines)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode guest cart")
	}
	a.saves.Lock()
	defer a.saves.Unlock()
	if err := a.backend.Save(ctx, a.key, data); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save guest cart")
	}
	return nil
}

// Purge deletes the stored guest cart.
func (a *Adapter) Purge(ctx context.Context) error {
	a.saves.Lock()
	defer a.saves.Unlock()
	if err := a.backend.Delete(ctx, a.key); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete guest cart")
	}
	return nil
}
