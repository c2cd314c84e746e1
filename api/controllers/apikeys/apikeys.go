package apikeys

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/merchcoin-backend/api/middleware"
	"github.com/angelmondragon/merchcoin-backend/api/responses"
	"github.com/angelmondragon/merchcoin-backend/api/validators"
	internalapikeys "github.com/angelmondragon/merchcoin-backend/internal/apikeys"
	"github.com/angelmondragon/merchcoin-backend/pkg/db/models"
	"github.com/angelmondragon/merchcoin-backend/pkg/logger"
)

// CredentialService is the credential management surface used by the admin API.
type CredentialService interface {
	Issue(ctx context.Context, input internalapikeys.IssueInput) (*internalapikeys.IssuedCredential, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]models.APICredential, error)
	Revoke(ctx context.Context, tenantID, credentialID uuid.UUID) error
}

type issueRequest struct {
	Name        string     `json:"name" validate:"required,max=100"`
	Permissions []string   `json:"permissions" validate:"required,min=1,unique"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

type credentialDTO struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	DisplayPrefix string     `json:"displayPrefix"`
	Permissions   []string   `json:"permissions"`
	CreatedBy     string     `json:"createdBy"`
	LastUsedAt    *time.Time `json:"lastUsedAt,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	RevokedAt     *time.Time `json:"revokedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type issueResponse struct {
	Credential credentialDTO `json:"credential"`
	Token      string        `json:"token"`
}

type listResponse struct {
	Credentials []credentialDTO `json:"credentials"`
}

// Issue creates a credential. The plaintext token appears only in this response.
func Issue(svc CredentialService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := middleware.RequireTenantID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req issueRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		issued, err := svc.Issue(r.Context(), internalapikeys.IssueInput{
			TenantID:    tenantID,
			Name:        validators.SanitizeString(req.Name, 100),
			Permissions: req.Permissions,
			ExpiresAt:   req.ExpiresAt,
			CreatedBy:   middleware.ActorFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, issueResponse{
			Credential: toCredentialDTO(issued.Credential),
			Token:      issued.Token,
		})
	}
}

func List(svc CredentialService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := middleware.RequireTenantID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.List(r.Context(), tenantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := listResponse{Credentials: make([]credentialDTO, 0, len(rows))}
		for _, row := range rows {
			out.Credentials = append(out.Credentials, toCredentialDTO(row))
		}
		responses.WriteSuccess(w, out)
	}
}

func Revoke(svc CredentialService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := middleware.RequireTenantID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		credentialID, err := validators.ParseUUIDParam(r, "credentialId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Revoke(r.Context(), tenantID, credentialID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"revoked": true, "id": credentialID})
	}
}

func toCredentialDTO(row models.APICredential) credentialDTO {
	perms := make([]string, 0, len(row.Permissions))
	perms = append(perms, row.Permissions...)
	return credentialDTO{
		ID:            row.ID,
		Name:          row.Name,
		DisplayPrefix: row.DisplayPrefix,
		Permissions:   perms,
		CreatedBy:     row.CreatedBy,
		LastUsedAt:    row.LastUsedAt,
		ExpiresAt:     row.ExpiresAt,
		RevokedAt:     row.RevokedAt,
		CreatedAt:     row.CreatedAt,
	}
}
