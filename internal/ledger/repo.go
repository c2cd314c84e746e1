package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/merchcoin-backend/pkg/db/models"
)

// Repository manages balances and the append-only transaction log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	UpsertCredit(ctx context.Context, tenantID, userID uuid.UUID, amount int64) (*models.Balance, error)
	LockBalance(ctx context.Context, tenantID, userID uuid.UUID) (*models.Balance, error)
	SetBalance(ctx context.Context, balanceID uuid.UUID, amount int64) error
	GetBalance(ctx context.Context, tenantID, userID uuid.UUID) (*models.Balance, error)
	AppendTransaction(ctx context.Context, entry *models.LedgerTransaction) error
	FindByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*models.LedgerTransaction, error)
	ListTransactions(ctx context.Context, tenantID, userID uuid.UUID, limit int) ([]models.LedgerTransaction, error)
	SignedSum(ctx context.Context, tenantID, userID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// UpsertCredit inserts the balance at amount or adds amount to the existing
// row, then reads the row back inside the same transaction.
func (r *repository) UpsertCredit(ctx context.Context, tenantID, userID uuid.UUID, amount int64) (*models.Balance, error) {
	row := &models.Balance{TenantID: tenantID, UserID: userID, Balance: amount}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"balance":    gorm.Expr("balances.balance + ?", amount),
			"updated_at": time.Now().UTC(),
		}),
	}).Create(row).Error
	if err != nil {
		return nil, err
	}
	return r.GetBalance(ctx, tenantID, userID)
}

// LockBalance row-locks the pair's balance. It returns nil when absent.
func (r *repository) LockBalance(ctx context.Context, tenantID, userID uuid.UUID) (*models.Balance, error) {
	var balance models.Balance
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Take(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *repository) SetBalance(ctx context.Context, balanceID uuid.UUID, amount int64) error {
	return r.db.WithContext(ctx).
		Model(&models.Balance{}).
		Where("id = ?", balanceID).
		Updates(map[string]any{"balance": amount, "updated_at": time.Now().UTC()}).Error
}

// GetBalance returns the pair's balance or nil when it was never credited.
func (r *repository) GetBalance(ctx context.Context, tenantID, userID uuid.UUID) (*models.Balance, error) {
	var balance models.Balance
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Take(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *repository) AppendTransaction(ctx context.Context, entry *models.LedgerTransaction) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*models.LedgerTransaction, error) {
	var entry models.LedgerTransaction
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND idempotency_key = ?", tenantID, key).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) ListTransactions(ctx context.Context, tenantID, userID uuid.UUID, limit int) ([]models.LedgerTransaction, error) {
	var entries []models.LedgerTransaction
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// SignedSum totals the pair's transaction deltas; it equals the cached balance.
func (r *repository) SignedSum(ctx context.Context, tenantID, userID uuid.UUID) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerTransaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Scan(&sum).Error
	return sum, err
}
