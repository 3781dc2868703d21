package routes

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-cart/api/controllers"
	"github.com/angelmondragon/storefront-cart/internal/mirror"
	"github.com/angelmondragon/storefront-cart/pkg/auth"
	"github.com/angelmondragon/storefront-cart/pkg/config"
	"github.com/angelmondragon/storefront-cart/pkg/db"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
	"github.com/angelmondragon/storefront-cart/pkg/metrics"
	"github.com/angelmondragon/storefront-cart/pkg/migrate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: config.AppEnvDev},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "storefront", ExpirationMinutes: 10},
	}
}

func newTestRouter(t *testing.T, readiness map[string]controllers.Pinger) (http.Handler, *config.Config) {
	t.Helper()
	client, err := db.OpenSQLite("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	sqlDB, err := client.DB().DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := migrate.Run(context.Background(), sqlDB, config.DriverSQLite, "", "up"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	reg := prometheus.NewRegistry()
	svc, err := mirror.NewService(mirror.NewRepository(client.DB()), client, metrics.NewCartMetrics(reg))
	if err != nil {
		t.Fatalf("mirror service: %v", err)
	}
	cfg := testConfig()
	return NewRouter(cfg, logger.Nop(), readiness, reg, svc), cfg
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestHealthEndpoints(t *testing.T) {
	router, _ := newTestRouter(t, map[string]controllers.Pinger{"db": stubPinger{}, "redis": nil})

	if resp := do(t, router, http.MethodGet, "/health/live", "", ""); resp.Code != http.StatusOK {
		t.Fatalf("live: expected 200 got %d", resp.Code)
	}
	resp := do(t, router, http.MethodGet, "/health/ready", "", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("ready: expected 200 got %d", resp.Code)
	}
	if strings.Contains(resp.Body.String(), "redis") {
		t.Fatalf("nil pingers must be skipped: %s", resp.Body.String())
	}
}

func TestReadyFailsWhenDependencyDown(t *testing.T) {
	router, _ := newTestRouter(t, map[string]controllers.Pinger{"db": stubPinger{err: errors.New("down")}})
	if resp := do(t, router, http.MethodGet, "/health/ready", "", ""); resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestCartRoutesRequireAuth(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	if resp := do(t, router, http.MethodGet, "/cart", "", ""); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
	if resp := do(t, router, http.MethodPut, "/cart", "", `{"cart":[]}`); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestCartRoundTripAndStaleWrite(t *testing.T) {
	router, cfg := newTestRouter(t, nil)
	token, err := auth.MintAccessToken(cfg.JWT, time.Now(), auth.AccessTokenPayload{UserID: "user-1"})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	resp := do(t, router, http.MethodPut, "/cart", token, `{"cart":[{"productId":"A","quantity":2,"name":"Widget","price":"100"}],"seq":5}`)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("put: expected 204 got %d: %s", resp.Code, resp.Body.String())
	}

	resp = do(t, router, http.MethodGet, "/cart", token, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("get: expected 200 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"productId":"A"`) || !strings.Contains(resp.Body.String(), `"quantity":2`) {
		t.Fatalf("unexpected cart %s", resp.Body.String())
	}

	resp = do(t, router, http.MethodPut, "/cart", token, `{"cart":[],"seq":4}`)
	if resp.Code != http.StatusConflict || !strings.Contains(resp.Body.String(), "STALE_WRITE") {
		t.Fatalf("expected stale write 409, got %d %s", resp.Code, resp.Body.String())
	}

	metricsResp := do(t, router, http.MethodGet, "/metrics", "", "")
	if metricsResp.Code != http.StatusOK || !strings.Contains(metricsResp.Body.String(), "cart_mirror_writes_total") {
		t.Fatalf("expected mirror metrics exposed, got %d", metricsResp.Code)
	}
}
