package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// APICredential is a programmatic bearer credential. Only the keyed hash of
// the secret is stored.
type APICredential struct {
	ID            uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	TenantID      uuid.UUID                   `gorm:"column:tenant_id;type:uuid;not null;index"`
	Name          string                      `gorm:"column:name;not null"`
	DisplayPrefix string                      `gorm:"column:display_prefix;not null"`
	KeyHash       string                      `gorm:"column:key_hash;not null;uniqueIndex:ux_api_credentials_key_hash"`
	Permissions   datatypes.JSONSlice[string] `gorm:"column:permissions;not null"`
	CreatedBy     string                      `gorm:"column:created_by;not null"`
	LastUsedAt    *time.Time                  `gorm:"column:last_used_at"`
	ExpiresAt     *time.Time                  `gorm:"column:expires_at"`
	RevokedAt     *time.Time                  `gorm:"column:revoked_at"`
	CreatedAt     time.Time                   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
}

func (APICredential) TableName() string { return "api_credentials" }

func (c *APICredential) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
