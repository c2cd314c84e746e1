package webhooks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/merchcoin-backend/pkg/db/models"
	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
	"github.com/angelmondragon/merchcoin-backend/pkg/pagination"
)

// Repository persists endpoints, deliveries and chat integrations.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) CreateEndpoint(ctx context.Context, endpoint *models.WebhookEndpoint) error {
	return r.db.WithContext(ctx).Create(endpoint).Error
}

func (r *Repository) ListEndpoints(ctx context.Context, tenantID uuid.UUID) ([]models.WebhookEndpoint, error) {
	var rows []models.WebhookEndpoint
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *Repository) ListActiveEndpoints(ctx context.Context, tenantID uuid.UUID) ([]models.WebhookEndpoint, error) {
	var rows []models.WebhookEndpoint
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND active = ?", tenantID, true).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// FindEndpoint returns the endpoint or nil when absent.
func (r *Repository) FindEndpoint(ctx context.Context, tenantID, endpointID uuid.UUID) (*models.WebhookEndpoint, error) {
	var endpoint models.WebhookEndpoint
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, endpointID).
		Take(&endpoint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &endpoint, nil
}

// DeactivateEndpoint reports whether a row was updated.
func (r *Repository) DeactivateEndpoint(ctx context.Context, tenantID, endpointID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.WebhookEndpoint{}).
		Where("tenant_id = ? AND id = ?", tenantID, endpointID).
		Update("active", false)
	return res.RowsAffected > 0, res.Error
}

func (r *Repository) CreateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error {
	return r.db.WithContext(ctx).Create(delivery).Error
}

func (r *Repository) UpdateDelivery(ctx context.Context, deliveryID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookDelivery{}).
		Where("id = ?", deliveryID).
		Updates(updates).Error
}

// ListDeliveries returns a page of an endpoint's deliveries, newest first.
func (r *Repository) ListDeliveries(ctx context.Context, tenantID, endpointID uuid.UUID, params pagination.Params) ([]models.WebhookDelivery, string, error) {
	page, err := pagination.Scope(params)
	if err != nil {
		return nil, "", err
	}
	var rows []models.WebhookDelivery
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND endpoint_id = ?", tenantID, endpointID).
		Scopes(page).
		Find(&rows).Error; err != nil {
		return nil, "", err
	}
	rows, next := pagination.Page(rows, params, func(d models.WebhookDelivery) pagination.Cursor {
		return pagination.Cursor{CreatedAt: d.CreatedAt, ID: d.ID}
	})
	return rows, next, nil
}

// ClaimDueRetries locks due failed deliveries across tenants, skipping rows
// another sweep holds, and leases them by pushing next_retry_at to leaseUntil.
// It must run in system scope.
func (r *Repository) ClaimDueRetries(ctx context.Context, now time.Time, maxAttempts, limit int, leaseUntil time.Time) ([]models.WebhookDelivery, error) {
	var rows []models.WebhookDelivery
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ? AND attempts < ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?",
			enums.DeliveryStatusFailed, maxAttempts, now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return rows, nil
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	if err := r.db.WithContext(ctx).
		Model(&models.WebhookDelivery{}).
		Where("id IN ?", ids).
		Update("next_retry_at", leaseUntil).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FindEndpointByID loads an endpoint regardless of tenant. It must run in
// system scope.
func (r *Repository) FindEndpointByID(ctx context.Context, endpointID uuid.UUID) (*models.WebhookEndpoint, error) {
	var endpoint models.WebhookEndpoint
	err := r.db.WithContext(ctx).Where("id = ?", endpointID).Take(&endpoint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &endpoint, nil
}

func (r *Repository) ListActiveChatIntegrations(ctx context.Context, tenantID uuid.UUID) ([]models.ChatIntegration, error) {
	var rows []models.ChatIntegration
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND active = ?", tenantID, true).
		Find(&rows).Error
	return rows, err
}
