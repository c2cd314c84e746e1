package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
)

// LedgerTransaction is an append-only record of one balance change.
// Amount is the signed delta applied to the balance.
type LedgerTransaction struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	TenantID       uuid.UUID             `gorm:"column:tenant_id;type:uuid;not null;index:ix_ledger_tx_tenant_user,priority:1;uniqueIndex:ux_ledger_tx_idempotency,priority:1"`
	UserID         uuid.UUID             `gorm:"column:user_id;type:uuid;not null;index:ix_ledger_tx_tenant_user,priority:2"`
	Type           enums.TransactionType `gorm:"column:type;type:text;not null"`
	Amount         int64                 `gorm:"column:amount;not null"`
	BalanceAfter   int64                 `gorm:"column:balance_after;not null"`
	Reason         string                `gorm:"column:reason;not null"`
	Reference      *string               `gorm:"column:reference"`
	PerformedBy    string                `gorm:"column:performed_by;not null"`
	IdempotencyKey *string               `gorm:"column:idempotency_key;uniqueIndex:ux_ledger_tx_idempotency,priority:2"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (LedgerTransaction) TableName() string { return "ledger_transactions" }

func (t *LedgerTransaction) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}
