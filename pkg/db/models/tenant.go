package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
)

// Tenant is one organization's isolated slice of data.
type Tenant struct {
	ID        uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Name      string           `gorm:"column:name;not null"`
	Slug      string           `gorm:"column:slug;not null;uniqueIndex:ux_tenants_slug"`
	Plan      enums.TenantPlan `gorm:"column:plan;type:text;not null"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (Tenant) TableName() string { return "tenants" }

func (t *Tenant) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}
