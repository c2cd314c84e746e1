package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/merchcoin-backend/pkg/db/models"
	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
	"github.com/angelmondragon/merchcoin-backend/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository returns an orders repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// LockTenant row-locks the tenant so order numbers are allocated one at a time.
func (r *repository) LockTenant(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", tenantID).
		Take(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (r *repository) MaxOrderNumber(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var latest int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("COALESCE(MAX(order_number), 0)").
		Where("tenant_id = ?", tenantID).
		Scan(&latest).Error
	return latest, err
}

// CreateOrder inserts the order together with its line snapshots.
func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) LockOrder(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND id = ?", tenantID, orderID).
		Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", order.ID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&order.Lines).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindOrder(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC").Order("id ASC") }).
		Where("tenant_id = ? AND id = ?", tenantID, orderID).
		Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrders returns a page of orders newest first and the cursor of the next page.
func (r *repository) ListOrders(ctx context.Context, tenantID uuid.UUID, buyerID *uuid.UUID, params pagination.Params) ([]models.Order, string, error) {
	page, err := pagination.Scope(params)
	if err != nil {
		return nil, "", err
	}
	query := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC").Order("id ASC") }).
		Where("tenant_id = ?", tenantID)
	if buyerID != nil {
		query = query.Where("buyer_id = ?", *buyerID)
	}

	var rows []models.Order
	if err := query.Scopes(page).Find(&rows).Error; err != nil {
		return nil, "", err
	}
	rows, next := pagination.Page(rows, params, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	return rows, next, nil
}

func (r *repository) UpdateOrder(ctx context.Context, orderID uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("order %s not updated", orderID)
	}
	return nil
}

// ListSettlementCandidates returns failed settlements and pending ones older
// than staleBefore, across tenants. It must run in system scope.
func (r *repository) ListSettlementCandidates(ctx context.Context, staleBefore time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("status <> ?", enums.OrderStatusCancelled).
		Where("(settlement_status = ?) OR (settlement_status = ? AND created_at < ?)",
			enums.SettlementStatusFailed, enums.SettlementStatusPending, staleBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListPendingRefunds returns cancelled, settled orders whose refund credit was
// never recorded. It must run in system scope.
func (r *repository) ListPendingRefunds(ctx context.Context, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND settlement_status = ? AND refund_transaction_id IS NULL",
			enums.OrderStatusCancelled, enums.SettlementStatusSettled).
		Order("cancelled_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
