package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/merchcoin-backend/pkg/db/models"
)

// Repository persists catalog items and variants.
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

func (r *Repository) CreateItem(ctx context.Context, item *models.CatalogItem) error {
	return r.db.WithContext(ctx).Omit("Variants").Create(item).Error
}

func (r *Repository) CreateVariant(ctx context.Context, variant *models.CatalogVariant) error {
	return r.db.WithContext(ctx).Create(variant).Error
}

// GetItem loads an item with its variants. It returns nil when absent.
func (r *Repository) GetItem(ctx context.Context, tenantID, id uuid.UUID) (*models.CatalogItem, error) {
	var item models.CatalogItem
	err := r.db.WithContext(ctx).
		Preload("Variants", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *Repository) ListItems(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]models.CatalogItem, error) {
	query := r.db.WithContext(ctx).
		Preload("Variants", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("tenant_id = ?", tenantID)
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var items []models.CatalogItem
	if err := query.Order("name ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// LockItems row-locks the requested items in ascending id order so that
// concurrent purchases acquire locks in the same sequence.
func (r *Repository) LockItems(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*models.CatalogItem, error) {
	out := make(map[uuid.UUID]*models.CatalogItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.CatalogItem
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		out[rows[i].ID] = &rows[i]
	}
	return out, nil
}

// LockVariants row-locks the requested variants in ascending id order.
func (r *Repository) LockVariants(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*models.CatalogVariant, error) {
	out := make(map[uuid.UUID]*models.CatalogVariant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.CatalogVariant
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		out[rows[i].ID] = &rows[i]
	}
	return out, nil
}

// AdjustItemStock adds delta to a finite item stock. Unlimited items are untouched.
func (r *Repository) AdjustItemStock(ctx context.Context, id uuid.UUID, delta int64) error {
	return r.db.WithContext(ctx).
		Model(&models.CatalogItem{}).
		Where("id = ? AND stock IS NOT NULL", id).
		Update("stock", gorm.Expr("stock + ?", delta)).Error
}

// AdjustVariantStock adds delta to a finite variant stock.
func (r *Repository) AdjustVariantStock(ctx context.Context, id uuid.UUID, delta int64) error {
	return r.db.WithContext(ctx).
		Model(&models.CatalogVariant{}).
		Where("id = ? AND stock IS NOT NULL", id).
		Update("stock", gorm.Expr("stock + ?", delta)).Error
}
