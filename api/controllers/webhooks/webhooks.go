package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/merchcoin-backend/api/middleware"
	"github.com/angelmondragon/merchcoin-backend/api/responses"
	"github.com/angelmondragon/merchcoin-backend/api/validators"
	internalwebhooks "github.com/angelmondragon/merchcoin-backend/internal/webhooks"
	"github.com/angelmondragon/merchcoin-backend/pkg/db/models"
	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
	"github.com/angelmondragon/merchcoin-backend/pkg/logger"
	"github.com/angelmondragon/merchcoin-backend/pkg/pagination"
)

// EndpointService is the webhook endpoint surface used by the admin API.
type EndpointService interface {
	Create(ctx context.Context, input internalwebhooks.CreateEndpointInput) (*internalwebhooks.CreatedEndpoint, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]models.WebhookEndpoint, error)
	Deactivate(ctx context.Context, tenantID, endpointID uuid.UUID) error
	ListDeliveries(ctx context.Context, tenantID, endpointID uuid.UUID, params pagination.Params) (*internalwebhooks.DeliveryList, error)
}

type createRequest struct {
	URL         string   `json:"url" validate:"required,url,max=2048"`
	Secret      string   `json:"secret,omitempty" validate:"omitempty,min=16,max=256"`
	Events      []string `json:"events" validate:"required,min=1"`
	Description *string  `json:"description,omitempty" validate:"omitempty,max=500"`
}

type endpointDTO struct {
	ID          uuid.UUID `json:"id"`
	URL         string    `json:"url"`
	Events      []string  `json:"events"`
	Description *string   `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type createResponse struct {
	Endpoint endpointDTO `json:"endpoint"`
	Secret   string      `json:"secret"`
}

type deliveryDTO struct {
	ID             uuid.UUID            `json:"id"`
	Event          enums.EventType      `json:"event"`
	Payload        json.RawMessage      `json:"payload"`
	Status         enums.DeliveryStatus `json:"status"`
	Attempts       int                  `json:"attempts"`
	NextRetryAt    *time.Time           `json:"nextRetryAt,omitempty"`
	LastAttemptAt  *time.Time           `json:"lastAttemptAt,omitempty"`
	ResponseStatus *int                 `json:"responseStatus,omitempty"`
	LastError      *string              `json:"lastError,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
}

// CreateEndpoint registers a receiver. The signing secret is returned only here.
func CreateEndpoint(svc EndpointService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := middleware.RequireTenantID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		created, err := svc.Create(r.Context(), internalwebhooks.CreateEndpointInput{
			TenantID:    tenantID,
			URL:         strings.TrimSpace(req.URL),
			Secret:      req.Secret,
			Events:      req.Events,
			Description: req.Description,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, createResponse{
			Endpoint: toEndpointDTO(created.Endpoint),
			Secret:   created.Secret,
		})
	}
}

func ListEndpoints(svc EndpointService, logg *logger.Logger) http.HandlerFunc {
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
		out := make([]endpointDTO, 0, len(rows))
		for _, row := range rows {
			out = append(out, toEndpointDTO(row))
		}
		responses.WriteSuccess(w, map[string]any{"endpoints": out})
	}
}

func DeactivateEndpoint(svc EndpointService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, endpointID, err := endpointTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Deactivate(r.Context(), tenantID, endpointID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"id": endpointID, "active": false})
	}
}

// ListDeliveries pages an endpoint's delivery log newest first.
func ListDeliveries(svc EndpointService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, endpointID, err := endpointTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListDeliveries(r.Context(), tenantID, endpointID, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]deliveryDTO, 0, len(list.Deliveries))
		for _, row := range list.Deliveries {
			out = append(out, deliveryDTO{
				ID:             row.ID,
				Event:          row.Event,
				Payload:        json.RawMessage(row.Payload),
				Status:         row.Status,
				Attempts:       row.Attempts,
				NextRetryAt:    row.NextRetryAt,
				LastAttemptAt:  row.LastAttemptAt,
				ResponseStatus: row.ResponseStatus,
				LastError:      row.LastError,
				CreatedAt:      row.CreatedAt,
			})
		}
		responses.WriteSuccess(w, map[string]any{"deliveries": out, "nextCursor": list.NextCursor})
	}
}

func endpointTarget(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	tenantID, err := middleware.RequireTenantID(r.Context())
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	endpointID, err := validators.ParseUUIDParam(r, "endpointId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return tenantID, endpointID, nil
}

func toEndpointDTO(row models.WebhookEndpoint) endpointDTO {
	events := make([]string, 0, len(row.Events))
	events = append(events, row.Events...)
	return endpointDTO{
		ID:          row.ID,
		URL:         row.URL,
		Events:      events,
		Description: row.Description,
		Active:      row.Active,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}
