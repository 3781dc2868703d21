package storefront

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-cart/internal/cart"
	"github.com/angelmondragon/storefront-cart/internal/cartsync"
	"github.com/angelmondragon/storefront-cart/internal/guest"
	"github.com/angelmondragon/storefront-cart/internal/reconcile"
	"github.com/angelmondragon/storefront-cart/pkg/auth"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
)

// Reconciler merges the local cart into the server cart on login.
type Reconciler interface {
	Run(ctx context.Context, identity auth.Identity) (reconcile.Outcome, error)
}

// SyncQueue carries snapshots to the server while signed in.
type SyncQueue interface {
	Enqueue(req cartsync.Request)
	Flush(ctx context.Context) error
	Close() error
}

// Params wires a Session.
type Params struct {
	Store      *cart.Store
	Guest      *guest.Adapter
	Reconciler Reconciler
	Sync       SyncQueue
	Fetcher    reconcile.Fetcher
	Logger     *logger.Logger
}

// Session owns the cart store and the components observing it, and moves
// between guest and signed-in behaviour.
type Session struct {
	store      *cart.Store
	guest      *guest.Adapter
	reconciler Reconciler
	sync       SyncQueue
	fetcher    reconcile.Fetcher
	logg       *logger.Logger

	mu       sync.Mutex
	state    State
	identity *auth.Identity

	startOnce   sync.Once
	hydrated    chan struct{}
	unsubscribe []func()
	closeOnce   sync.Once
	closeErr    error
}

// NewSession subscribes the guest adapter and sync channel to the store.
// Call Start before Login or Resume.
func NewSession(params Params) (*Session, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("cart store is required")
	}
	if params.Guest == nil {
		return nil, fmt.Errorf("guest adapter is required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler is required")
	}
	if params.Sync == nil {
		return nil, fmt.Errorf("sync queue is required")
	}
	if params.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	s := &Session{
		store:      params.Store,
		guest:      params.Guest,
		reconciler: params.Reconciler,
		sync:       params.Sync,
		fetcher:    params.Fetcher,
		logg:       params.Logger,
		state:      StateGuest,
		hydrated:   make(chan struct{}),
	}
	s.guest.Enable()
	s.unsubscribe = append(s.unsubscribe,
		s.store.Subscribe(s.guest.Observe),
		s.store.Subscribe(s.observeSync),
	)
	return s, nil
}

func (s *Session) Store() *cart.Store {
	return s.store
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the signed-in identity, if any.
func (s *Session) Identity() (auth.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return auth.Identity{}, false
	}
	return *s.identity, true
}

// Start hydrates the store from guest storage. Storage errors are logged and
// the session starts with an empty cart. Later calls are no-ops.
func (s *Session) Start(ctx context.Context) error {
	s.startOnce.Do(func() {
		defer close(s.hydrated)
		hydrated, err := s.guest.Hydrate(ctx, s.store)
		if err != nil {
			s.logg.Error(ctx, "hydrate guest cart failed, starting empty", err)
			return
		}
		if hydrated {
			s.logg.Info(s.logg.WithField(ctx, "lines", s.store.Len()), "guest cart restored")
		}
	})
	return nil
}

func (s *Session) waitHydrated(ctx context.Context) error {
	select {
	case <-s.hydrated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Login reconciles the guest cart into the account identified by token. A
// repeated login for the same authentication event is a no-op.
func (s *Session) Login(ctx context.Context, token string) (reconcile.Outcome, error) {
	identity, err := auth.PeekIdentity(token)
	if err != nil {
		return reconcile.Outcome{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid access token")
	}
	if err := s.waitHydrated(ctx); err != nil {
		return reconcile.Outcome{}, err
	}
	ctx = s.logg.WithLogin(ctx, identity.UserID, identity.AuthEventID)

	s.mu.Lock()
	if s.state == StateSynced && s.identity != nil && sameLogin(*s.identity, identity) {
		s.mu.Unlock()
		return reconcile.Outcome{Skipped: true, Merged: s.store.Snapshot()}, nil
	}
	if err := s.transitionLocked(EventLogin); err != nil {
		s.mu.Unlock()
		return reconcile.Outcome{}, err
	}
	s.identity = &identity
	s.guest.Disable()
	s.mu.Unlock()

	out, runErr := s.reconciler.Run(ctx, identity)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReconciling || s.identity == nil || !sameLogin(*s.identity, identity) {
		// logged out while reconciling
		return out, pkgerrors.New(pkgerrors.CodeStateConflict, "session changed during reconciliation")
	}
	if runErr != nil {
		s.logg.Error(ctx, "cart reconciliation abandoned", runErr)
		if err := s.transitionLocked(EventMergeAbandoned); err != nil {
			return out, err
		}
		return out, nil
	}
	if err := s.transitionLocked(EventMergeDone); err != nil {
		return out, err
	}
	if !out.Skipped && s.store.Version() != out.Version {
		// Edits made while the merge was pushed were neither stored locally
		// nor synced; push the cart they produced.
		s.logg.Info(ctx, "cart changed during reconciliation, pushing latest snapshot")
		s.enqueueLocked(identity, s.store.Snapshot())
	}
	return out, nil
}

// Resume restores a signed-in session after a reload by adopting the
// server cart. Guest leftovers are discarded rather than merged again; edits
// made while the server cart is fetched are replayed on top of it.
func (s *Session) Resume(ctx context.Context, token string) error {
	identity, err := auth.PeekIdentity(token)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid access token")
	}
	if err := s.waitHydrated(ctx); err != nil {
		return err
	}
	ctx = s.logg.WithLogin(ctx, identity.UserID, identity.AuthEventID)

	pending := &changeLog{}
	stopRecording := s.store.Subscribe(pending.record)
	defer stopRecording()

	s.mu.Lock()
	next, err := Next(s.state, EventResume)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.guest.Disable()
	s.mu.Unlock()

	var (
		replayed int
		adopted  uint64
	)
	server, fetchErr := s.fetcher.FetchCart(ctx, identity.Token)
	if fetchErr != nil {
		s.logg.Error(ctx, "fetch server cart on resume failed", fetchErr)
	} else {
		_, adopted = s.store.Reconcile(func(cart.Snapshot) []cart.Line {
			changes := pending.take()
			replayed = len(changes)
			return cart.Replay(server, changes, s.store.Policy())
		})
	}
	if err := s.guest.Purge(ctx); err != nil {
		s.logg.Error(ctx, "delete guest leftovers on resume failed", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateGuest {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "session changed during resume")
	}
	s.state = next
	s.identity = &identity
	if fetchErr == nil && (replayed > 0 || s.store.Version() != adopted) {
		s.logg.Info(s.logg.WithField(ctx, "replayed", replayed), "cart changed during resume, pushing latest snapshot")
		s.enqueueLocked(identity, s.store.Snapshot())
	}
	return nil
}

// Logout empties the in-memory cart and returns to guest mode. The server
// cart is left as the account's copy.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	if err := s.transitionLocked(EventLogout); err != nil {
		s.mu.Unlock()
		return err
	}
	s.identity = nil
	s.mu.Unlock()

	if err := s.sync.Flush(ctx); err != nil {
		s.logg.Warn(ctx, "cart sync did not drain before logout")
	}
	s.store.ClearCart()
	s.guest.Enable()
	return nil
}

// ClearCart empties the cart. Guests also lose their stored copy.
func (s *Session) ClearCart(ctx context.Context) error {
	s.store.ClearCart()
	if s.State() != StateGuest {
		return nil
	}
	return s.guest.Purge(ctx)
}

// Flush waits for pending sync pushes.
func (s *Session) Flush(ctx context.Context) error {
	return s.sync.Flush(ctx)
}

// Close detaches observers and drains the sync channel.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		for _, unsubscribe := range s.unsubscribe {
			unsubscribe()
		}
		s.closeErr = multierr.Append(s.closeErr, s.sync.Close())
	})
	return s.closeErr
}

func (s *Session) observeSync(change cart.Change) {
	s.mu.Lock()
	if s.state != StateSynced || s.identity == nil {
		s.mu.Unlock()
		return
	}
	identity := *s.identity
	s.mu.Unlock()

	s.sync.Enqueue(cartsync.Request{
		UserID: identity.UserID,
		Token:  identity.Token,
		Lines:  change.Snapshot,
	})
}

// enqueueLocked queues lines while s.mu is held, so the snapshot cannot be
// queued behind a newer one from observeSync.
func (s *Session) enqueueLocked(identity auth.Identity, lines cart.Snapshot) {
	s.sync.Enqueue(cartsync.Request{
		UserID: identity.UserID,
		Token:  identity.Token,
		Lines:  lines,
	})
}

// changeLog records store changes made while a resume is in flight.
type changeLog struct {
	mu      sync.Mutex
	changes []cart.Change
}

func (l *changeLog) record(change cart.Change) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, change)
}

func (l *changeLog) take() []cart.Change {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.changes
	l.changes = nil
	return out
}

func (s *Session) transitionLocked(ev Event) error {
	next, err := Next(s.state, ev)
	if err != nil {
		return err
	}
	s.logg.Debug(s.logg.WithFields(context.Background(), map[string]any{
		"from":  string(s.state),
		"to":    string(next),
		"event": string(ev),
	}), "cart session transition")
	s.state = next
	return nil
}

func sameLogin(a, b auth.Identity) bool {
	return a.UserID == b.UserID && a.AuthEventID == b.AuthEventID
}
