package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/merchcoin-backend/internal/ledger"
	"github.com/angelmondragon/merchcoin-backend/pkg/db/models"
	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
	"github.com/angelmondragon/merchcoin-backend/pkg/pagination"
)

// Repository defines persistence operations for orders and their lines.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockTenant(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error)
	MaxOrderNumber(ctx context.Context, tenantID uuid.UUID) (int64, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	LockOrder(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error)
	FindOrder(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, tenantID uuid.UUID, buyerID *uuid.UUID, params pagination.Params) ([]models.Order, string, error)
	UpdateOrder(ctx context.Context, orderID uuid.UUID, updates map[string]any) error
	ListSettlementCandidates(ctx context.Context, staleBefore time.Time, limit int) ([]models.Order, error)
	ListPendingRefunds(ctx context.Context, limit int) ([]models.Order, error)
}

// Ledger is the subset of the ledger engine consumed by settlement.
type Ledger interface {
	Credit(ctx context.Context, input ledger.EntryInput) (*ledger.Result, error)
	Debit(ctx context.Context, input ledger.EntryInput) (*ledger.Result, error)
}

// EventPublisher receives order notifications once their unit of work commits.
type EventPublisher interface {
	Publish(ctx context.Context, tenantID uuid.UUID, event enums.EventType, payload any)
}
