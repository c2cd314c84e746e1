package apikeys

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/merchcoin-backend/pkg/db/models"
)

// Repository persists API credentials.
type Repository struct {
	db *gorm.DB
}

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

func (r *Repository) Create(ctx context.Context, credential *models.APICredential) error {
	return r.db.WithContext(ctx).Create(credential).Error
}

func (r *Repository) List(ctx context.Context, tenantID uuid.UUID) ([]models.APICredential, error) {
	var rows []models.APICredential
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

// Revoke stamps revoked_at once and reports whether the credential exists.
func (r *Repository) Revoke(ctx context.Context, tenantID, credentialID uuid.UUID, at time.Time) (bool, error) {
	var credential models.APICredential
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, credentialID).
		Take(&credential).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if credential.RevokedAt != nil {
		return true, nil
	}
	return true, r.db.WithContext(ctx).
		Model(&models.APICredential{}).
		Where("id = ?", credentialID).
		Update("revoked_at", at).Error
}

// FindByHash looks a credential up across tenants together with its tenant.
// It must run in system scope.
func (r *Repository) FindByHash(ctx context.Context, hash string) (*models.APICredential, *models.Tenant, error) {
	var credential models.APICredential
	err := r.db.WithContext(ctx).Where("key_hash = ?", hash).Take(&credential).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	var tenant models.Tenant
	err = r.db.WithContext(ctx).Where("id = ?", credential.TenantID).Take(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &credential, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return &credential, &tenant, nil
}

func (r *Repository) TouchLastUsed(ctx context.Context, credentialID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.APICredential{}).
		Where("id = ?", credentialID).
		Update("last_used_at", at).Error
}
