package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/merchcoin-backend/internal/apikeys"
	"github.com/angelmondragon/merchcoin-backend/internal/catalog"
	"github.com/angelmondragon/merchcoin-backend/internal/ledger"
	"github.com/angelmondragon/merchcoin-backend/internal/orders"
	pkgAuth "github.com/angelmondragon/merchcoin-backend/pkg/auth"
	"github.com/angelmondragon/merchcoin-backend/pkg/config"
	"github.com/angelmondragon/merchcoin-backend/pkg/db/models"
	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/merchcoin-backend/pkg/errors"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type stubAuthenticator struct {
	principals map[string]*apikeys.Principal
}

func (s stubAuthenticator) Authenticate(_ context.Context, token string) (*apikeys.Principal, error) {
	if p, ok := s.principals[token]; ok {
		return p, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid api key")
}

type stubLedger struct {
	ledger.Service
}

func (stubLedger) Balance(context.Context, uuid.UUID, uuid.UUID) (int64, error) {
	return 42, nil
}

type stubOrders struct {
	orders.Service
}

func (stubOrders) Approve(_ context.Context, tenantID, orderID uuid.UUID) (*models.Order, error) {
	return &models.Order{ID: orderID, TenantID: tenantID, Status: enums.OrderStatusApproved}, nil
}

type stubCatalog struct {
	catalog.Service
}

var testConfig = &config.Config{
	App: config.AppConfig{Env: "dev", CORSOrigins: []string{"http://localhost:3000"}},
	JWT: config.JWTConfig{Secret: "router-test-secret", Issuer: "merchcoin-test", ExpirationMinutes: 5},
}

func newTestRouter(t *testing.T, limit int) (http.Handler, uuid.UUID) {
	t.Helper()
	tenantID := uuid.New()
	limiter, err := apikeys.NewMemoryLimiter(limit, time.Minute, time.Now)
	require.NoError(t, err)

	authenticator := stubAuthenticator{principals: map[string]*apikeys.Principal{
		"mc_live_reader": {CredentialID: uuid.New(), TenantID: tenantID, Capabilities: apikeys.MustCapabilities("currency:read")},
	}}
	router := NewRouter(testConfig, nil, stubPinger{}, nil, limiter, authenticator,
		stubLedger{}, stubOrders{}, stubCatalog{}, nil, nil)
	return router, tenantID
}

func sessionToken(t *testing.T, role enums.MemberRole, tenantID uuid.UUID) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(testConfig.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		UserID:   uuid.New(),
		TenantID: tenantID,
		Role:     role,
		JTI:      uuid.NewString(),
	})
	require.NoError(t, err)
	return token
}

func TestHealthRoutes(t *testing.T) {
	router, _ := newTestRouter(t, 10)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestAPIKeyRoutes(t *testing.T) {
	router, _ := newTestRouter(t, 10)
	target := "/api/v1/currency/balance/" + uuid.NewString()

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, target, nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Authorization", "Bearer mc_live_reader")
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"balance":42`)
	assert.Equal(t, "10", resp.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", resp.Header().Get("X-RateLimit-Remaining"))

	req = httptest.NewRequest(http.MethodPost, "/api/v1/currency/credit", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer mc_live_reader")
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestAPIKeyRoutesRateLimited(t *testing.T) {
	router, _ := newTestRouter(t, 1)
	target := "/api/v1/currency/balance/" + uuid.NewString()

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.Header.Set("Authorization", "Bearer mc_live_reader")
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		assert.Equal(t, want, resp.Code, "request %d", i)
	}
}

func TestAdminRoutes(t *testing.T) {
	router, tenantID := newTestRouter(t, 10)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/catalog/items", nil)
	req.Header.Set("Authorization", "Bearer "+sessionToken(t, enums.MemberRoleMember, tenantID))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/admin/v1/currency/credit", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+sessionToken(t, enums.MemberRoleMember, tenantID))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/admin/v1/currency/balance/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", "Bearer "+sessionToken(t, enums.MemberRoleAdmin, tenantID))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestAdminRoutesCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t, 10)

	req := httptest.NewRequest(http.MethodOptions, "/api/admin/v1/orders", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, "http://localhost:3000", resp.Header().Get("Access-Control-Allow-Origin"))
}

func TestAdminOrderTransitionRequiresCapability(t *testing.T) {
	router, tenantID := newTestRouter(t, 10)
	orderID := uuid.New()
	target := "/api/admin/v1/orders/" + orderID.String() + "/approve"

	req := httptest.NewRequest(http.MethodPost, target, nil)
	req.Header.Set("Authorization", "Bearer "+sessionToken(t, enums.MemberRoleMember, tenantID))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	req = httptest.NewRequest(http.MethodPost, target, nil)
	req.Header.Set("Authorization", "Bearer "+sessionToken(t, enums.MemberRoleAdmin, tenantID))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), orderID.String())
	assert.Contains(t, resp.Body.String(), `"approved"`)
}
