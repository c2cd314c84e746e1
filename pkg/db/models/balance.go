package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Balance caches the current currency amount of one user within a tenant.
type Balance struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	TenantID  uuid.UUID `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:ux_balances_tenant_user,priority:1"`
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_balances_tenant_user,priority:2"`
	Balance   int64     `gorm:"column:balance;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Balance) TableName() string { return "balances" }

func (b *Balance) BeforeCreate(*gorm.DB) error {
	ensureID(&b.ID)
	return nil
}
