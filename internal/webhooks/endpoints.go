package webhooks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/merchcoin-backend/internal/tenancy"
	"github.com/angelmondragon/merchcoin-backend/pkg/db/models"
	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/merchcoin-backend/pkg/errors"
	"github.com/angelmondragon/merchcoin-backend/pkg/pagination"
)

const secretPrefix = "whsec_"

// CreateEndpointInput registers a receiver. Secret is generated when empty.
type CreateEndpointInput struct {
	TenantID    uuid.UUID
	URL         string
	Secret      string
	Events      []string
	Description *string
}

// CreatedEndpoint is returned once at creation; Secret is never readable again.
type CreatedEndpoint struct {
	Endpoint models.WebhookEndpoint `json:"endpoint"`
	Secret   string                 `json:"secret"`
}

// DeliveryList is one page of an endpoint's delivery log.
type DeliveryList struct {
	Deliveries []models.WebhookDelivery `json:"deliveries"`
	NextCursor string                   `json:"nextCursor,omitempty"`
}

// EndpointService manages tenant webhook endpoints.
type EndpointService struct {
	tenancy tenancy.Runner
	repo    *Repository
}

func NewEndpointService(runner tenancy.Runner, repo *Repository) *EndpointService {
	return &EndpointService{tenancy: runner, repo: repo}
}

func (s *EndpointService) Create(ctx context.Context, input CreateEndpointInput) (*CreatedEndpoint, error) {
	target, err := url.Parse(strings.TrimSpace(input.URL))
	if err != nil || (target.Scheme != "https" && target.Scheme != "http") || target.Host == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "url must be an absolute http(s) url")
	}
	if len(input.Events) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one event is required")
	}
	events := make(datatypes.JSONSlice[string], 0, len(input.Events))
	seen := make(map[enums.EventType]struct{}, len(input.Events))
	for _, raw := range input.Events {
		event, err := enums.ParseEventSubscription(strings.TrimSpace(raw))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event subscription").
				WithDetails(map[string]any{"event": raw})
		}
		if _, dup := seen[event]; dup {
			continue
		}
		seen[event] = struct{}{}
		events = append(events, string(event))
	}

	secret := strings.TrimSpace(input.Secret)
	if secret == "" {
		if secret, err = generateSecret(); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate endpoint secret")
		}
	}

	endpoint := models.WebhookEndpoint{
		TenantID:    input.TenantID,
		URL:         target.String(),
		Secret:      secret,
		Events:      events,
		Description: input.Description,
		Active:      true,
	}
	if err := s.tenancy.Run(ctx, input.TenantID, func(ctx context.Context, tx *gorm.DB) error {
		return s.repo.WithTx(tx).CreateEndpoint(ctx, &endpoint)
	}); err != nil {
		return nil, err
	}
	return &CreatedEndpoint{Endpoint: endpoint, Secret: secret}, nil
}

func (s *EndpointService) List(ctx context.Context, tenantID uuid.UUID) ([]models.WebhookEndpoint, error) {
	var rows []models.WebhookEndpoint
	err := s.tenancy.Run(ctx, tenantID, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		rows, err = s.repo.WithTx(tx).ListEndpoints(ctx, tenantID)
		return err
	})
	return rows, err
}

// Deactivate stops future deliveries; pending retries fail without a send.
func (s *EndpointService) Deactivate(ctx context.Context, tenantID, endpointID uuid.UUID) error {
	return s.tenancy.Run(ctx, tenantID, func(ctx context.Context, tx *gorm.DB) error {
		updated, err := s.repo.WithTx(tx).DeactivateEndpoint(ctx, tenantID, endpointID)
		if err != nil {
			return err
		}
		if !updated {
			return pkgerrors.New(pkgerrors.CodeNotFound, "webhook endpoint not found")
		}
		return nil
	})
}

func (s *EndpointService) ListDeliveries(ctx context.Context, tenantID, endpointID uuid.UUID, params pagination.Params) (*DeliveryList, error) {
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	var list DeliveryList
	err := s.tenancy.Run(ctx, tenantID, func(ctx context.Context, tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		endpoint, err := repo.FindEndpoint(ctx, tenantID, endpointID)
		if err != nil {
			return err
		}
		if endpoint == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "webhook endpoint not found")
		}
		rows, next, err := repo.ListDeliveries(ctx, tenantID, endpointID, params)
		if err != nil {
			return err
		}
		list = DeliveryList{Deliveries: rows, NextCursor: next}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &list, nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return secretPrefix + hex.EncodeToString(buf), nil
}
