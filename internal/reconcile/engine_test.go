package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/angelmondragon/storefront-cart/internal/cart"
	"github.com/angelmondragon/storefront-cart/internal/cartsync"
	"github.com/angelmondragon/storefront-cart/pkg/auth"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
	"github.com/angelmondragon/storefront-cart/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

type stubFetcher struct {
	lines cart.Snapshot
	err   error
	calls int
}

func (s *stubFetcher) FetchCart(context.Context, string) (cart.Snapshot, error) {
	s.calls++
	return s.lines.Clone(), s.err
}

type stubPusher struct {
	pushed []cartsync.Request
	err    error
}

func (s *stubPusher) PushNow(_ context.Context, req cartsync.Request) error {
	s.pushed = append(s.pushed, req)
	return s.err
}

type stubPurger struct {
	calls int
	err   error
}

func (s *stubPurger) Purge(context.Context) error {
	s.calls++
	return s.err
}

type failingGuard struct{}

func (failingGuard) Acquire(context.Context, string, string) (bool, error) {
	return false, errors.New("redis down")
}
func (failingGuard) Release(context.Context, string, string) error { return nil }

type fixture struct {
	store   *cart.Store
	fetcher *stubFetcher
	pusher  *stubPusher
	purger  *stubPurger
	engine  *Engine
}

func newFixture(t *testing.T, guard Guard) *fixture {
	t.Helper()
	f := &fixture{
		store:   cart.NewStore(),
		fetcher: &stubFetcher{},
		pusher:  &stubPusher{},
		purger:  &stubPurger{},
	}
	if guard == nil {
		guard = NewMemoryGuard()
	}
	engine, err := NewEngine(EngineParams{
		Store:   f.store,
		Fetcher: f.fetcher,
		Pusher:  f.pusher,
		Guest:   f.purger,
		Guard:   guard,
		Logger:  logger.Nop(),
		Metrics: metrics.NewCartMetrics(prometheus.NewRegistry()),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	f.engine = engine
	return f
}

func identity(event string) auth.Identity {
	return auth.Identity{UserID: "user-1", AuthEventID: event, Token: "tok"}
}

func add(t *testing.T, store *cart.Store, id string, qty int) {
	t.Helper()
	if err := store.AddToCart(cart.Product{ID: id, Price: decimal.NewFromInt(10)}, qty); err != nil {
		t.Fatalf("add %s: %v", id, err)
	}
}

func TestMergeSumsAndAppends(t *testing.T) {
	guestCart := cart.Snapshot{{ProductID: "A", Quantity: 2}}
	server := cart.Snapshot{{ProductID: "A", Quantity: 1}, {ProductID: "B", Quantity: 3}}

	merged := Merge(guestCart, server)
	q := merged.Quantities()
	if len(merged) != 2 || q["A"] != 3 || q["B"] != 3 {
		t.Fatalf("expected {A:3 B:3}, got %v", q)
	}
	if merged[0].ProductID != "A" || merged[1].ProductID != "B" {
		t.Fatalf("expected guest order first, got %+v", merged)
	}
	if guestCart[0].Quantity != 2 || server[0].Quantity != 1 {
		t.Fatalf("merge mutated its inputs")
	}
}

func TestRunMergesPushesAndPurges(t *testing.T) {
	f := newFixture(t, nil)
	add(t, f.store, "A", 2)
	f.fetcher.lines = cart.Snapshot{{ProductID: "A", Quantity: 1}, {ProductID: "B", Quantity: 3}}

	out, err := f.engine.Run(context.Background(), identity("evt-1"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Skipped || out.FetchFailed || !out.Pushed || !out.GuestPurged {
		t.Fatalf("unexpected outcome %+v", out)
	}
	q := f.store.Snapshot().Quantities()
	if q["A"] != 3 || q["B"] != 3 {
		t.Fatalf("expected store {A:3 B:3}, got %v", q)
	}
	if len(f.pusher.pushed) != 1 || f.pusher.pushed[0].Lines.Quantities()["A"] != 3 {
		t.Fatalf("expected merged snapshot pushed, got %+v", f.pusher.pushed)
	}
	if f.pusher.pushed[0].Token != "tok" || f.purger.calls != 1 {
		t.Fatalf("expected token forwarded and guest purged")
	}
	if out.Label() != OutcomeMerged {
		t.Fatalf("expected merged label, got %s", out.Label())
	}
}

func TestRunTwiceForSameLoginDoesNotResum(t *testing.T) {
	f := newFixture(t, nil)
	add(t, f.store, "A", 2)
	f.fetcher.lines = cart.Snapshot{{ProductID: "A", Quantity: 1}}

	if _, err := f.engine.Run(context.Background(), identity("evt-1")); err != nil {
		t.Fatalf("first run: %v", err)
	}
	totalAfterFirst := f.store.Snapshot().TotalQuantity()

	out, err := f.engine.Run(context.Background(), identity("evt-1"))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !out.Skipped {
		t.Fatalf("expected second run skipped")
	}
	if got := f.store.Snapshot().TotalQuantity(); got != totalAfterFirst {
		t.Fatalf("expected total %d after replay, got %d", totalAfterFirst, got)
	}
	if f.fetcher.calls != 1 || len(f.pusher.pushed) != 1 {
		t.Fatalf("second run must not fetch or push")
	}
}

func TestRunNewLoginEventRunsAgain(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.engine.Run(context.Background(), identity("evt-1")); err != nil {
		t.Fatalf("first run: %v", err)
	}
	out, err := f.engine.Run(context.Background(), identity("evt-2"))
	if err != nil || out.Skipped {
		t.Fatalf("expected a fresh login to reconcile, got %+v %v", out, err)
	}
}

func TestRunFetchFailureDegradesToGuestCart(t *testing.T) {
	f := newFixture(t, nil)
	add(t, f.store, "A", 2)
	f.fetcher.err = errors.New("timeout")

	out, err := f.engine.Run(context.Background(), identity("evt-1"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !out.FetchFailed || out.Label() != OutcomeDegraded {
		t.Fatalf("expected degraded outcome, got %+v", out)
	}
	if q := f.store.Snapshot().Quantities(); len(q) != 1 || q["A"] != 2 {
		t.Fatalf("expected guest-only cart, got %v", q)
	}
	if len(f.pusher.pushed) != 1 || f.purger.calls != 1 {
		t.Fatalf("degraded merge still pushes and purges")
	}
}

func TestRunPushFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, nil)
	add(t, f.store, "A", 1)
	f.pusher.err = errors.New("offline")

	out, err := f.engine.Run(context.Background(), identity("evt-1"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Pushed || !out.GuestPurged {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestRunGuardFailureLeavesCartUntouched(t *testing.T) {
	f := newFixture(t, failingGuard{})
	add(t, f.store, "A", 1)
	f.fetcher.lines = cart.Snapshot{{ProductID: "B", Quantity: 1}}

	if _, err := f.engine.Run(context.Background(), identity("evt-1")); err == nil {
		t.Fatalf("expected guard error")
	}
	if f.store.Len() != 1 || f.fetcher.calls != 0 || f.purger.calls != 0 {
		t.Fatalf("guard failure must not merge or purge")
	}
}

func TestMemoryGuard(t *testing.T) {
	ctx := context.Background()
	guard := NewMemoryGuard()
	first, err := guard.Acquire(ctx, "u", "e")
	if err != nil || !first {
		t.Fatalf("expected first acquire, got %v %v", first, err)
	}
	again, _ := guard.Acquire(ctx, "u", "e")
	if again {
		t.Fatalf("expected second acquire refused")
	}
	if err := guard.Release(ctx, "u", "e"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := guard.Acquire(ctx, "u", "e"); !ok {
		t.Fatalf("expected acquire after release")
	}
	if _, err := guard.Acquire(ctx, "u", ""); err == nil {
		t.Fatalf("expected validation error")
	}
}

// editingPusher adds a line while the merge push is in flight.
type editingPusher struct {
	store  *cart.Store
	pushed []cartsync.Request
}

func (p *editingPusher) PushNow(_ context.Context, req cartsync.Request) error {
	p.pushed = append(p.pushed, req)
	_ = p.store.AddToCart(cart.Product{ID: "C"}, 1)
	return nil
}

func TestRunKeepsEditsMadeDuringPushAndReportsMergeVersion(t *testing.T) {
	store := cart.NewStore()
	add(t, store, "A", 2)
	pusher := &editingPusher{store: store}
	engine, err := NewEngine(EngineParams{
		Store:   store,
		Fetcher: &stubFetcher{lines: cart.Snapshot{{ProductID: "A", Quantity: 1}}},
		Pusher:  pusher,
		Guest:   &stubPurger{},
		Guard:   NewMemoryGuard(),
		Logger:  logger.Nop(),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	out, err := engine.Run(context.Background(), identity("evt-1"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if q := out.Merged.Quantities(); len(q) != 1 || q["A"] != 3 {
		t.Fatalf("expected merged {A:3}, got %v", q)
	}
	if q := store.Snapshot().Quantities(); q["A"] != 3 || q["C"] != 1 {
		t.Fatalf("edit during push must survive, got %v", q)
	}
	if out.Version == 0 || store.Version() == out.Version {
		t.Fatalf("expected store to move past merge version %d, store at %d", out.Version, store.Version())
	}
}
