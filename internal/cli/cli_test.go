package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-cart/internal/cart"
	"github.com/angelmondragon/storefront-cart/internal/guest"
	"github.com/angelmondragon/storefront-cart/internal/reconcile"
	"github.com/angelmondragon/storefront-cart/pkg/auth"
	"github.com/angelmondragon/storefront-cart/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
)

type memoryServer struct {
	mu    sync.Mutex
	lines cart.Snapshot
}

func (m *memoryServer) FetchCart(context.Context, string) (cart.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lines.Clone(), nil
}

func (m *memoryServer) PushCart(_ context.Context, _ string, lines cart.Snapshot, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = lines.Clone()
	return nil
}

func (m *memoryServer) quantities() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lines.Quantities()
}

type fixture struct {
	backend *guest.MemoryStore
	server  *memoryServer
	guard   reconcile.Guard
}

func newFixture() *fixture {
	return &fixture{
		backend: guest.NewMemoryStore(),
		server:  &memoryServer{},
		guard:   reconcile.NewMemoryGuard(),
	}
}

func (f *fixture) open(ctx context.Context) (*App, error) {
	return NewApp(ctx, Components{
		Guest:  f.backend,
		Server: f.server,
		Guard:  f.guard,
		Logger: logger.Nop(),
	})
}

// run executes one cartctl invocation, like a separate process sharing the
// device storage and the server.
func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(f.open)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mintToken(t *testing.T, userID, jti string) string {
	t.Helper()
	tok, err := auth.MintAccessToken(config.JWTConfig{Secret: "cli-secret", Issuer: "storefront", ExpirationMinutes: 5},
		time.Now(), auth.AccessTokenPayload{UserID: userID, JTI: jti})
	require.NoError(t, err)
	return tok
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(newFixture().open)
	for _, name := range []string{"add", "remove", "update", "clear", "show", "login", "resume", "logout"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand(newFixture().open)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)
	require.NotNil(t, cmd.PersistentFlags().Lookup("token"))
}

func TestInvalidFormatRejected(t *testing.T) {
	_, err := newFixture().run(t, "show", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestGuestCartSurvivesInvocations(t *testing.T) {
	f := newFixture()

	_, err := f.run(t, "add", "A", "--quantity", "2", "--name", "Widget", "--price", "100")
	require.NoError(t, err)
	_, err = f.run(t, "add", "B", "--price", "12.50")
	require.NoError(t, err)
	_, err = f.run(t, "update", "B", "3")
	require.NoError(t, err)

	out, err := f.run(t, "show", "--format", "json")
	require.NoError(t, err)

	var view cartView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "guest", view.State)
	assert.Equal(t, 5, view.TotalQuantity)
	assert.Equal(t, "237.50", view.Subtotal)
	assert.Empty(t, f.server.quantities(), "guest changes must not reach the server")

	_, err = f.run(t, "remove", "A")
	require.NoError(t, err)
	out, err = f.run(t, "show")
	require.NoError(t, err)
	assert.Contains(t, out, "37.50")
	assert.NotContains(t, out, "Widget")

	_, err = f.run(t, "clear")
	require.NoError(t, err)
	_, ok, err := f.backend.Load(context.Background(), guest.DefaultStorageKey)
	require.NoError(t, err)
	assert.False(t, ok, "clear must delete the stored guest cart")
}

func TestLoginMergesAndSignedInCommandsPush(t *testing.T) {
	f := newFixture()
	f.server.lines = cart.Snapshot{{ProductID: "A", Quantity: 1}}

	_, err := f.run(t, "add", "A", "--quantity", "2")
	require.NoError(t, err)

	token := mintToken(t, "user-1", "evt-1")
	out, err := f.run(t, "login", "--token", token)
	require.NoError(t, err)
	assert.Contains(t, out, "reconcile: merged")
	assert.Equal(t, map[string]int{"A": 3}, f.server.quantities())

	_, ok, err := f.backend.Load(context.Background(), guest.DefaultStorageKey)
	require.NoError(t, err)
	assert.False(t, ok, "guest copy must be deleted after login")

	_, err = f.run(t, "add", "C", "--token", token)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"A": 3, "C": 1}, f.server.quantities())

	out, err = f.run(t, "logout", "--token", token, "--format", "json")
	require.NoError(t, err)
	var view cartView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "guest", view.State)
	assert.Empty(t, view.Lines)
	assert.Equal(t, map[string]int{"A": 3, "C": 1}, f.server.quantities(), "logout keeps the account cart")
}

func TestLoginRequiresToken(t *testing.T) {
	t.Setenv(TokenEnv, "")
	_, err := newFixture().run(t, "login")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access token is required")
}

func TestStockCeilingRejectsAdd(t *testing.T) {
	f := newFixture()
	_, err := f.run(t, "add", "A", "--quantity", "3", "--stock", "2")
	require.Error(t, err)
	assert.ErrorIs(t, err, cart.ErrStockCeilingExceeded)
	assert.Equal(t, ExitUsage, ExitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCode(nil))
	assert.Equal(t, ExitUsage, ExitCode(pkgerrors.New(pkgerrors.CodeValidation, "bad")))
	assert.Equal(t, ExitUsage, ExitCode(pkgerrors.New(pkgerrors.CodeStateConflict, "bad")))
	assert.Equal(t, ExitFailure, ExitCode(pkgerrors.New(pkgerrors.CodeDependency, "down")))
}
