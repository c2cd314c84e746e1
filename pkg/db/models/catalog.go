package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CatalogItem is a purchasable item. A nil Stock means unlimited.
type CatalogItem struct {
	ID        uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	TenantID  uuid.UUID        `gorm:"column:tenant_id;type:uuid;not null;index"`
	Name      string           `gorm:"column:name;not null"`
	Price     int64            `gorm:"column:price;not null"`
	Stock     *int64           `gorm:"column:stock"`
	Active    bool             `gorm:"column:active;not null"`
	Variants  []CatalogVariant `gorm:"foreignKey:ItemID"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (CatalogItem) TableName() string { return "catalog_items" }

func (i *CatalogItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}

// CatalogVariant refines an item; PriceOverride and Stock take precedence
// over the item values when set.
type CatalogVariant struct {
	ID            uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	TenantID      uuid.UUID         `gorm:"column:tenant_id;type:uuid;not null;index"`
	ItemID        uuid.UUID         `gorm:"column:item_id;type:uuid;not null;index"`
	Name          string            `gorm:"column:name;not null"`
	PriceOverride *int64            `gorm:"column:price_override"`
	Stock         *int64            `gorm:"column:stock"`
	Options       datatypes.JSONMap `gorm:"column:options"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (CatalogVariant) TableName() string { return "catalog_variants" }

func (v *CatalogVariant) BeforeCreate(*gorm.DB) error {
	ensureID(&v.ID)
	return nil
}
