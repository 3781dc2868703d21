package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/storefront-cart/pkg/idempotency"
)

const guardConsumer = "cart-reconcile"

// Guard makes reconciliation one-shot per (user, authentication event).
type Guard interface {
	// Acquire returns true the first time it sees key.
	Acquire(ctx context.Context, userID, authEventID string) (bool, error)
	// Release forgets key so it may run again.
	Release(ctx context.Context, userID, authEventID string) error
}

// ManagerGuard stores markers through an idempotency.Manager, so the guard
// lives in Redis or process memory depending on the manager's store.
type ManagerGuard struct {
	manager *idempotency.Manager
}

func NewManagerGuard(manager *idempotency.Manager) (*ManagerGuard, error) {
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager is required")
	}
	return &ManagerGuard{manager: manager}, nil
}

// NewMemoryGuard returns a process-local guard.
func NewMemoryGuard() *ManagerGuard {
	manager, _ := idempotency.NewManager(idempotency.NewMemoryStore(), 0)
	return &ManagerGuard{manager: manager}
}

func (g *ManagerGuard) Acquire(ctx context.Context, userID, authEventID string) (bool, error) {
	id, err := guardID(userID, authEventID)
	if err != nil {
		return false, err
	}
	seen, err := g.manager.CheckAndMarkProcessed(ctx, guardConsumer, id)
	if err != nil {
		return false, err
	}
	return !seen, nil
}

func (g *ManagerGuard) Release(ctx context.Context, userID, authEventID string) error {
	id, err := guardID(userID, authEventID)
	if err != nil {
		return err
	}
	return g.manager.Delete(ctx, guardConsumer, id)
}

func guardID(userID, authEventID string) (string, error) {
	userID = strings.TrimSpace(userID)
	authEventID = strings.TrimSpace(authEventID)
	if userID == "" || authEventID == "" {
		return "", fmt.Errorf("user id and auth event id are required")
	}
	return userID + ":" + authEventID, nil
}
