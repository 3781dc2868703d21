package storefront

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-cart/internal/cart"
	"github.com/angelmondragon/storefront-cart/internal/cartsync"
	"github.com/angelmondragon/storefront-cart/internal/guest"
	"github.com/angelmondragon/storefront-cart/internal/reconcile"
	"github.com/angelmondragon/storefront-cart/pkg/auth"
	"github.com/angelmondragon/storefront-cart/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
	"github.com/shopspring/decimal"
)

// fakeServer is an in-memory stand-in for the cart mirror.
type fakeServer struct {
	mu     sync.Mutex
	lines  cart.Snapshot
	pushes int

	// beforeFetch and beforePush run ahead of each call, outside the lock.
	beforeFetch func()
	beforePush  func()
}

func (f *fakeServer) FetchCart(context.Context, string) (cart.Snapshot, error) {
	if f.beforeFetch != nil {
		f.beforeFetch()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lines.Clone(), nil
}

func (f *fakeServer) PushCart(_ context.Context, _ string, lines cart.Snapshot, _ int64) error {
	if f.beforePush != nil {
		f.beforePush()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = lines.Clone()
	f.pushes++
	return nil
}

func (f *fakeServer) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes
}

func (f *fakeServer) quantities() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lines.Quantities()
}

type harness struct {
	session *Session
	store   *cart.Store
	backend *guest.MemoryStore
	server  *fakeServer
}

func newHarness(t *testing.T, backend *guest.MemoryStore, server *fakeServer) *harness {
	t.Helper()
	if backend == nil {
		backend = guest.NewMemoryStore()
	}
	if server == nil {
		server = &fakeServer{}
	}
	logg := logger.Nop()
	store := cart.NewStore()
	adapter, err := guest.NewAdapter(backend, "", logg)
	if err != nil {
		t.Fatalf("guest adapter: %v", err)
	}
	worker, err := cartsync.NewWorker(cartsync.WorkerParams{Pusher: server, Logger: logg})
	if err != nil {
		t.Fatalf("worker: %v", err)
	}
	worker.Start()
	engine, err := reconcile.NewEngine(reconcile.EngineParams{
		Store:   store,
		Fetcher: server,
		Pusher:  worker,
		Guest:   adapter,
		Guard:   reconcile.NewMemoryGuard(),
		Logger:  logg,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	session, err := NewSession(Params{
		Store:      store,
		Guest:      adapter,
		Reconciler: engine,
		Sync:       worker,
		Fetcher:    server,
		Logger:     logg,
	})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return &harness{session: session, store: store, backend: backend, server: server}
}

func token(t *testing.T, userID, jti string) string {
	t.Helper()
	tok, err := auth.MintAccessToken(config.JWTConfig{
		Secret:            "test-secret",
		Issuer:            "storefront",
		ExpirationMinutes: 30,
	}, time.Now(), auth.AccessTokenPayload{UserID: userID, JTI: jti})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return tok
}

// holdFirst returns a hook that blocks its first caller until release is
// closed, closing entered once that caller is waiting.
func holdFirst() (hook func(), entered, release chan struct{}) {
	entered = make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	hook = func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	}
	return hook, entered, release
}

func seedGuest(t *testing.T, backend *guest.MemoryStore, lines cart.Snapshot) {
	t.Helper()
	data, err := guest.Encode(lines)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := backend.Save(context.Background(), guest.DefaultStorageKey, data); err != nil {
		t.Fatalf("seed guest: %v", err)
	}
}

func TestTransitionTable(t *testing.T) {
	legal := []struct {
		from State
		ev   Event
		to   State
	}{
		{StateGuest, EventLogin, StateReconciling},
		{StateGuest, EventResume, StateSynced},
		{StateReconciling, EventMergeDone, StateSynced},
		{StateReconciling, EventMergeAbandoned, StateSynced},
		{StateReconciling, EventLogout, StateGuest},
		{StateSynced, EventLogout, StateGuest},
	}
	for _, tc := range legal {
		got, err := Next(tc.from, tc.ev)
		if err != nil || got != tc.to {
			t.Fatalf("%s --%s--> expected %s, got %s (%v)", tc.from, tc.ev, tc.to, got, err)
		}
	}

	illegal := []struct {
		from State
		ev   Event
	}{
		{StateGuest, EventLogout},
		{StateGuest, EventMergeDone},
		{StateSynced, EventLogin},
		{StateReconciling, EventLogin},
		{StateSynced, EventResume},
	}
	for _, tc := range illegal {
		got, err := Next(tc.from, tc.ev)
		if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) || got != tc.from {
			t.Fatalf("%s --%s--> expected state conflict, got %s (%v)", tc.from, tc.ev, got, err)
		}
	}
}

func TestLoginWaitsForHydration(t *testing.T) {
	backend := guest.NewMemoryStore()
	seedGuest(t, backend, cart.Snapshot{{ProductID: "A", Quantity: 2, UnitPrice: decimal.NewFromInt(100)}})
	server := &fakeServer{lines: cart.Snapshot{{ProductID: "A", Quantity: 1}}}
	h := newHarness(t, backend, server)

	tok := token(t, "user-1", "evt-1")
	done := make(chan reconcile.Outcome, 1)
	go func() {
		out, err := h.session.Login(context.Background(), tok)
		if err != nil {
			t.Errorf("login: %v", err)
		}
		done <- out
	}()

	select {
	case <-done:
		t.Fatalf("login finished before hydration")
	case <-time.After(30 * time.Millisecond):
	}

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	out := <-done
	if q := out.Merged.Quantities(); q["A"] != 3 {
		t.Fatalf("expected hydrated base merged to A=3, got %v", q)
	}
	if h.session.State() != StateSynced {
		t.Fatalf("expected synced, got %s", h.session.State())
	}
}

func TestLoginHonoursContextWhileWaitingForHydration(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := h.session.Login(ctx, token(t, "user-1", "evt-1")); err == nil {
		t.Fatalf("expected context error")
	}
	if h.session.State() != StateGuest {
		t.Fatalf("expected to remain guest")
	}
}

func TestGuestMutationsPersistAndSignedInMutationsPush(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	_ = h.session.Start(ctx)

	_ = h.store.AddToCart(cart.Product{ID: "A", Price: decimal.NewFromInt(5)}, 1)
	if _, ok, _ := h.backend.Load(ctx, guest.DefaultStorageKey); !ok {
		t.Fatalf("guest mutation not persisted")
	}
	if h.server.pushCount() != 0 {
		t.Fatalf("guest mutation must not push")
	}

	if _, err := h.session.Login(ctx, token(t, "user-1", "evt-1")); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, ok, _ := h.backend.Load(ctx, guest.DefaultStorageKey); ok {
		t.Fatalf("guest copy must be deleted after reconcile")
	}

	_ = h.store.AddToCart(cart.Product{ID: "B", Price: decimal.NewFromInt(5)}, 2)
	if err := h.session.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if q := h.server.quantities(); q["A"] != 1 || q["B"] != 2 {
		t.Fatalf("expected server mirror {A:1 B:2}, got %v", q)
	}
	if _, ok, _ := h.backend.Load(ctx, guest.DefaultStorageKey); ok {
		t.Fatalf("signed-in mutation must not write guest storage")
	}
}

func TestRepeatedLoginDoesNotResum(t *testing.T) {
	backend := guest.NewMemoryStore()
	seedGuest(t, backend, cart.Snapshot{{ProductID: "A", Quantity: 2}})
	h := newHarness(t, backend, &fakeServer{lines: cart.Snapshot{{ProductID: "A", Quantity: 1}}})
	ctx := context.Background()
	_ = h.session.Start(ctx)

	tok := token(t, "user-1", "evt-1")
	if _, err := h.session.Login(ctx, tok); err != nil {
		t.Fatalf("first login: %v", err)
	}
	first := h.store.Snapshot().TotalQuantity()

	out, err := h.session.Login(ctx, tok)
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if !out.Skipped || h.store.Snapshot().TotalQuantity() != first {
		t.Fatalf("second login re-summed: total %d vs %d", h.store.Snapshot().TotalQuantity(), first)
	}

	if _, err := h.session.Login(ctx, token(t, "user-2", "evt-9")); !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict for a different login while synced, got %v", err)
	}
}

func TestLogoutClearsCartAndReenablesGuestPersistence(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	_ = h.session.Start(ctx)
	_ = h.store.AddToCart(cart.Product{ID: "A"}, 1)
	if _, err := h.session.Login(ctx, token(t, "user-1", "evt-1")); err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := h.session.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if h.session.State() != StateGuest || h.store.Len() != 0 {
		t.Fatalf("expected empty guest session")
	}
	if _, ok := h.session.Identity(); ok {
		t.Fatalf("identity must be cleared")
	}
	if q := h.server.quantities(); q["A"] != 1 {
		t.Fatalf("logout must not clear the server cart, got %v", q)
	}

	_ = h.store.AddToCart(cart.Product{ID: "C"}, 1)
	if _, ok, _ := h.backend.Load(ctx, guest.DefaultStorageKey); !ok {
		t.Fatalf("guest persistence must resume after logout")
	}
	if err := h.session.Logout(ctx); !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict for logout as guest, got %v", err)
	}
}

func TestResumeAdoptsServerCart(t *testing.T) {
	backend := guest.NewMemoryStore()
	seedGuest(t, backend, cart.Snapshot{{ProductID: "STALE", Quantity: 9}})
	h := newHarness(t, backend, &fakeServer{lines: cart.Snapshot{{ProductID: "A", Quantity: 3}}})
	ctx := context.Background()
	_ = h.session.Start(ctx)

	if err := h.session.Resume(ctx, token(t, "user-1", "evt-1")); err != nil {
		t.Fatalf("resume: %v", err)
	}
	q := h.store.Snapshot().Quantities()
	if len(q) != 1 || q["A"] != 3 {
		t.Fatalf("expected server cart adopted, got %v", q)
	}
	if h.session.State() != StateSynced {
		t.Fatalf("expected synced")
	}
	if _, ok, _ := backend.Load(ctx, guest.DefaultStorageKey); ok {
		t.Fatalf("guest leftovers must be deleted")
	}
}

func TestClearCartPurgesGuestCopy(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	_ = h.session.Start(ctx)
	_ = h.store.AddToCart(cart.Product{ID: "A"}, 1)

	if err := h.session.ClearCart(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := h.backend.Load(ctx, guest.DefaultStorageKey); ok {
		t.Fatalf("expected guest key deleted")
	}
	adapter, _ := guest.NewAdapter(h.backend, "", nil)
	lines, err := adapter.Load(ctx)
	if err != nil || len(lines) != 0 {
		t.Fatalf("expected empty cart after clear, got %v %v", lines, err)
	}
}

func TestLoginRejectsInvalidToken(t *testing.T) {
	h := newHarness(t, nil, nil)
	_ = h.session.Start(context.Background())
	if _, err := h.session.Login(context.Background(), "garbage"); !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestEditsDuringReconcilePushReachServer(t *testing.T) {
	backend := guest.NewMemoryStore()
	seedGuest(t, backend, cart.Snapshot{{ProductID: "A", Quantity: 2}})
	server := &fakeServer{}
	hook, entered, release := holdFirst()
	server.beforePush = hook
	h := newHarness(t, backend, server)
	ctx := context.Background()
	_ = h.session.Start(ctx)

	tok := token(t, "user-1", "evt-1")
	done := make(chan error, 1)
	go func() {
		_, err := h.session.Login(ctx, tok)
		done <- err
	}()

	<-entered
	if h.session.State() != StateReconciling {
		t.Fatalf("expected reconciling while the merge push is in flight, got %s", h.session.State())
	}
	if err := h.store.AddToCart(cart.Product{ID: "C"}, 1); err != nil {
		t.Fatalf("add during reconcile: %v", err)
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := h.session.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if q := h.store.Snapshot().Quantities(); q["A"] != 2 || q["C"] != 1 {
		t.Fatalf("expected local {A:2 C:1}, got %v", q)
	}
	if q := server.quantities(); len(q) != 2 || q["A"] != 2 || q["C"] != 1 {
		t.Fatalf("edit made during reconcile never reached the server, got %v", q)
	}
	if h.session.State() != StateSynced {
		t.Fatalf("expected synced, got %s", h.session.State())
	}
}

func TestLoginWithoutConcurrentEditsPushesOnce(t *testing.T) {
	backend := guest.NewMemoryStore()
	seedGuest(t, backend, cart.Snapshot{{ProductID: "A", Quantity: 2}})
	h := newHarness(t, backend, nil)
	ctx := context.Background()
	_ = h.session.Start(ctx)

	if _, err := h.session.Login(ctx, token(t, "user-1", "evt-1")); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := h.session.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := h.server.pushCount(); got != 1 {
		t.Fatalf("expected only the merge push, got %d pushes", got)
	}
}

func TestEditsDuringResumeFetchAreReplayedOnServerCart(t *testing.T) {
	backend := guest.NewMemoryStore()
	seedGuest(t, backend, cart.Snapshot{{ProductID: "STALE", Quantity: 9}})
	server := &fakeServer{lines: cart.Snapshot{{ProductID: "A", Quantity: 1}}}
	hook, entered, release := holdFirst()
	server.beforeFetch = hook
	h := newHarness(t, backend, server)
	ctx := context.Background()
	_ = h.session.Start(ctx)

	tok := token(t, "user-1", "evt-1")
	done := make(chan error, 1)
	go func() {
		done <- h.session.Resume(ctx, tok)
	}()

	<-entered
	if err := h.store.AddToCart(cart.Product{ID: "Z", Price: decimal.NewFromInt(3)}, 1); err != nil {
		t.Fatalf("add during resume: %v", err)
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := h.session.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if q := h.store.Snapshot().Quantities(); len(q) != 2 || q["A"] != 1 || q["Z"] != 1 {
		t.Fatalf("expected server cart plus the edit {A:1 Z:1}, got %v", q)
	}
	if q := server.quantities(); len(q) != 2 || q["A"] != 1 || q["Z"] != 1 {
		t.Fatalf("expected edit pushed after resume, got %v", q)
	}
	if _, ok, _ := backend.Load(ctx, guest.DefaultStorageKey); ok {
		t.Fatalf("guest leftovers must be deleted")
	}
}
