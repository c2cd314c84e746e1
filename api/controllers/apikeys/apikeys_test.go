package apikeys

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/merchcoin-backend/api/middleware"
	internalapikeys "github.com/angelmondragon/merchcoin-backend/internal/apikeys"
	"github.com/angelmondragon/merchcoin-backend/pkg/db/models"
	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/merchcoin-backend/pkg/errors"
)

type stubCredentialService struct {
	issue  func(ctx context.Context, input internalapikeys.IssueInput) (*internalapikeys.IssuedCredential, error)
	list   func(ctx context.Context, tenantID uuid.UUID) ([]models.APICredential, error)
	revoke func(ctx context.Context, tenantID, credentialID uuid.UUID) error
}

func (s *stubCredentialService) Issue(ctx context.Context, input internalapikeys.IssueInput) (*internalapikeys.IssuedCredential, error) {
	return s.issue(ctx, input)
}

func (s *stubCredentialService) List(ctx context.Context, tenantID uuid.UUID) ([]models.APICredential, error) {
	return s.list(ctx, tenantID)
}

func (s *stubCredentialService) Revoke(ctx context.Context, tenantID, credentialID uuid.UUID) error {
	return s.revoke(ctx, tenantID, credentialID)
}

func adminRequest(method, target string, body []byte, tenantID uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	ctx := middleware.WithUserID(req.Context(), uuid.NewString())
	ctx = middleware.WithPrincipal(ctx, tenantID, internalapikeys.RoleCapabilities(enums.MemberRoleAdmin))
	return req.WithContext(ctx)
}

func TestIssueReturnsTokenWithoutHash(t *testing.T) {
	tenantID := uuid.New()
	var captured internalapikeys.IssueInput
	svc := &stubCredentialService{
		issue: func(ctx context.Context, input internalapikeys.IssueInput) (*internalapikeys.IssuedCredential, error) {
			captured = input
			return &internalapikeys.IssuedCredential{
				Credential: models.APICredential{
					ID:            uuid.New(),
					TenantID:      input.TenantID,
					Name:          input.Name,
					DisplayPrefix: "mc_live_abcd",
					KeyHash:       "secret-hash",
					Permissions:   input.Permissions,
				},
				Token: "mc_live_abcd.plaintext",
			}, nil
		},
	}

	body := []byte(`{"name":" Store sync ","permissions":["currency:read","orders:create"]}`)
	resp := httptest.NewRecorder()
	Issue(svc, nil).ServeHTTP(resp, adminRequest(http.MethodPost, "/api-keys", body, tenantID))

	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, tenantID, captured.TenantID)
	assert.Equal(t, "Store sync", captured.Name)
	assert.Contains(t, captured.CreatedBy, "user:")
	assert.NotContains(t, resp.Body.String(), "secret-hash")

	var out struct {
		Data issueResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Equal(t, "mc_live_abcd.plaintext", out.Data.Token)
	assert.Equal(t, []string{"currency:read", "orders:create"}, out.Data.Credential.Permissions)
}

func TestIssueValidatesPermissions(t *testing.T) {
	svc := &stubCredentialService{}
	resp := httptest.NewRecorder()
	Issue(svc, nil).ServeHTTP(resp, adminRequest(http.MethodPost, "/api-keys", []byte(`{"name":"x","permissions":[]}`), uuid.New()))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestRevoke(t *testing.T) {
	tenantID, credentialID := uuid.New(), uuid.New()
	svc := &stubCredentialService{
		revoke: func(ctx context.Context, tID, cID uuid.UUID) error {
			if tID != tenantID || cID != credentialID {
				return pkgerrors.New(pkgerrors.CodeNotFound, "credential not found")
			}
			return nil
		},
	}

	req := adminRequest(http.MethodDelete, "/api-keys/"+credentialID.String(), nil, tenantID)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("credentialId", credentialID.String())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	resp := httptest.NewRecorder()
	Revoke(svc, nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
}
