package cli

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-cart/internal/cart"
	"github.com/angelmondragon/storefront-cart/internal/cartapi"
	"github.com/angelmondragon/storefront-cart/internal/cartsync"
	"github.com/angelmondragon/storefront-cart/internal/guest"
	"github.com/angelmondragon/storefront-cart/internal/reconcile"
	"github.com/angelmondragon/storefront-cart/internal/storefront"
	"github.com/angelmondragon/storefront-cart/pkg/config"
	"github.com/angelmondragon/storefront-cart/pkg/db"
	"github.com/angelmondragon/storefront-cart/pkg/idempotency"
	"github.com/angelmondragon/storefront-cart/pkg/instance"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
	"github.com/angelmondragon/storefront-cart/pkg/metrics"
	"github.com/angelmondragon/storefront-cart/pkg/redis"
)

// CartServer is the pair of backend contracts a session talks to.
type CartServer interface {
	reconcile.Fetcher
	cartsync.Pusher
}

// Components are the collaborators an App is assembled from.
type Components struct {
	Guest      guest.Backend
	StorageKey string
	Server     CartServer
	Guard      reconcile.Guard
	Policy     cart.QuantityPolicy
	QueueSize  int
	Metrics    *metrics.CartMetrics
	Logger     *logger.Logger
}

// App is one started storefront session plus the resources behind it.
type App struct {
	Session *storefront.Session

	closers []func() error
}

// Opener builds an App for a single command invocation.
type Opener func(ctx context.Context) (*App, error)

// NewApp wires a session from components and hydrates it.
func NewApp(ctx context.Context, c Components) (*App, error) {
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	store := cart.NewStore(cart.WithQuantityPolicy(c.Policy))
	adapter, err := guest.NewAdapter(c.Guest, c.StorageKey, c.Logger)
	if err != nil {
		return nil, err
	}
	worker, err := cartsync.NewWorker(cartsync.WorkerParams{
		Pusher:    c.Server,
		Logger:    c.Logger,
		Metrics:   c.Metrics,
		QueueSize: c.QueueSize,
	})
	if err != nil {
		return nil, err
	}
	worker.Start()

	engine, err := reconcile.NewEngine(reconcile.EngineParams{
		Store:   store,
		Fetcher: c.Server,
		Pusher:  worker,
		Guest:   adapter,
		Guard:   c.Guard,
		Logger:  c.Logger,
		Metrics: c.Metrics,
	})
	if err != nil {
		_ = worker.Close()
		return nil, err
	}
	session, err := storefront.NewSession(storefront.Params{
		Store:      store,
		Guest:      adapter,
		Reconciler: engine,
		Sync:       worker,
		Fetcher:    c.Server,
		Logger:     c.Logger,
	})
	if err != nil {
		_ = worker.Close()
		return nil, err
	}
	if err := session.Start(ctx); err != nil {
		_ = session.Close()
		return nil, err
	}
	return &App{Session: session}, nil
}

// Close drains pending pushes, then releases storage handles.
func (a *App) Close() error {
	err := a.Session.Close()
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	return err
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// OpenFromConfig returns an Opener that builds the guest backend, the
// reconcile guard and the API client described by cfg.
func OpenFromConfig(cfg *config.Config, logg *logger.Logger) Opener {
	return func(ctx context.Context) (*App, error) {
		var closers []func() error
		fail := func(err error) (*App, error) {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
			return nil, err
		}

		policy, err := cart.ParseQuantityPolicy(cfg.Cart.QuantityPolicy)
		if err != nil {
			return nil, err
		}
		server, err := cartapi.New(cfg.Cart.APIBaseURL, cfg.Cart.HTTPTimeout)
		if err != nil {
			return nil, err
		}

		var redisClient *redis.Client
		if strings.EqualFold(cfg.Cart.GuestBackend, config.GuestBackendRedis) || strings.EqualFold(cfg.Cart.GuardBackend, config.GuardBackendRedis) {
			redisClient, err = redis.New(ctx, cfg.Redis, logg)
			if err != nil {
				return nil, err
			}
			closers = append(closers, redisClient.Close)
		}

		var backend guest.Backend
		switch strings.ToLower(cfg.Cart.GuestBackend) {
		case config.GuestBackendSQLite:
			client, err := db.OpenSQLite(cfg.Cart.SQLitePath)
			if err != nil {
				return fail(err)
			}
			closers = append(closers, client.Close)
			store, err := guest.NewSQLStore(ctx, client.DB())
			if err != nil {
				return fail(err)
			}
			backend = store
		case config.GuestBackendRedis:
			store, err := guest.NewRedisStore(redisClient, deviceID(cfg.Cart), 0)
			if err != nil {
				return fail(err)
			}
			backend = store
		case config.GuestBackendMemory:
			backend = guest.NewMemoryStore()
		default:
			return fail(fmt.Errorf("unknown guest backend %q", cfg.Cart.GuestBackend))
		}

		guard := reconcile.Guard(reconcile.NewMemoryGuard())
		if strings.EqualFold(cfg.Cart.GuardBackend, config.GuardBackendRedis) {
			manager, err := idempotency.NewManager(redisClient, cfg.Cart.GuardTTL)
			if err != nil {
				return fail(err)
			}
			managerGuard, err := reconcile.NewManagerGuard(manager)
			if err != nil {
				return fail(err)
			}
			guard = managerGuard
		}

		app, err := NewApp(logg.WithDeviceID(ctx, deviceID(cfg.Cart)), Components{
			Guest:      backend,
			StorageKey: cfg.Cart.StorageKey,
			Server:     server,
			Guard:      guard,
			Policy:     policy,
			QueueSize:  cfg.Cart.SyncQueueSize,
			Logger:     logg,
		})
		if err != nil {
			return fail(err)
		}
		app.closers = closers
		return app, nil
	}
}

func deviceID(cfg config.CartConfig) string {
	if id := strings.TrimSpace(cfg.DeviceID); id != "" {
		return id
	}
	return instance.ID("local")
}
