package reconcile

import (
	"context"
	"fmt"

	"github.com/angelmondragon/storefront-cart/internal/cart"
	"github.com/angelmondragon/storefront-cart/internal/cartsync"
	"github.com/angelmondragon/storefront-cart/pkg/auth"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
	"github.com/angelmondragon/storefront-cart/pkg/metrics"
)

// Outcome labels used for logs and metrics.
const (
	OutcomeMerged   = "merged"
	OutcomeDegraded = "degraded"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// Fetcher reads the authenticated user's server cart.
type Fetcher interface {
	FetchCart(ctx context.Context, token string) (cart.Snapshot, error)
}

// Pusher overwrites the server cart synchronously.
type Pusher interface {
	PushNow(ctx context.Context, req cartsync.Request) error
}

// GuestPurger deletes the guest copy of the cart.
type GuestPurger interface {
	Purge(ctx context.Context) error
}

// EngineParams wires an Engine.
type EngineParams struct {
	Store   *cart.Store
	Fetcher Fetcher
	Pusher  Pusher
	Guest   GuestPurger
	Guard   Guard
	Logger  *logger.Logger
	Metrics *metrics.CartMetrics
}

// Engine merges a guest cart into the server cart once per login.
type Engine struct {
	store   *cart.Store
	fetcher Fetcher
	pusher  Pusher
	guest   GuestPurger
	guard   Guard
	logg    *logger.Logger
	metrics *metrics.CartMetrics
}

// Outcome describes what a Run did.
type Outcome struct {
	Skipped     bool
	FetchFailed bool
	Pushed      bool
	GuestPurged bool
	Merged      cart.Snapshot
	// Version is the store version the merged cart was installed at.
	Version uint64
}

// Label returns the metrics label for o.
func (o Outcome) Label() string {
	switch {
	case o.Skipped:
		return OutcomeSkipped
	case o.FetchFailed:
		return OutcomeDegraded
	default:
		return OutcomeMerged
	}
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("cart store is required")
	}
	if params.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if params.Pusher == nil {
		return nil, fmt.Errorf("pusher is required")
	}
	if params.Guest == nil {
		return nil, fmt.Errorf("guest purger is required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("guard is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Engine{
		store:   params.Store,
		fetcher: params.Fetcher,
		pusher:  params.Pusher,
		guest:   params.Guest,
		guard:   params.Guard,
		logg:    params.Logger,
		metrics: params.Metrics,
	}, nil
}

// Run reconciles the local cart with identity's server cart. A second Run for
// the same (user, auth event) is skipped. A failed fetch merges against an
// empty server cart; a failed push is logged and left to the sync channel.
func (e *Engine) Run(ctx context.Context, identity auth.Identity) (Outcome, error) {
	ctx = e.logg.WithLogin(ctx, identity.UserID, identity.AuthEventID)

	first, err := e.guard.Acquire(ctx, identity.UserID, identity.AuthEventID)
	if err != nil {
		e.metrics.IncReconcile(OutcomeFailed)
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire reconcile guard")
	}
	if !first {
		e.metrics.IncReconcile(OutcomeSkipped)
		e.logg.Info(ctx, "cart already reconciled for this login")
		return Outcome{Skipped: true, Merged: e.store.Snapshot()}, nil
	}

	var out Outcome
	server, err := e.fetcher.FetchCart(ctx, identity.Token)
	if err != nil {
		out.FetchFailed = true
		server = nil
		e.logg.Error(ctx, "fetch server cart failed, merging guest cart only", err)
	}

	var base cart.Snapshot
	out.Merged, out.Version = e.store.Reconcile(func(current cart.Snapshot) []cart.Line {
		base = current
		return Merge(current, server)
	})

	pushErr := e.pusher.PushNow(ctx, cartsync.Request{
		UserID: identity.UserID,
		Token:  identity.Token,
		Lines:  out.Merged,
	})
	out.Pushed = pushErr == nil

	if err := e.guest.Purge(ctx); err != nil {
		e.logg.Error(ctx, "delete guest cart after reconcile failed", err)
	} else {
		out.GuestPurged = true
	}

	e.metrics.IncReconcile(out.Label())
	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"outcome":      out.Label(),
		"guest_lines":  len(base),
		"server_lines": len(server),
		"lines":        len(out.Merged),
		"pushed":       out.Pushed,
	}), "cart reconciled")
	return out, nil
}
