package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ensureID assigns a fresh identifier when the caller did not provide one.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// All lists every persisted model in dependency order.
func All() []any {
	return []any{
		&Tenant{},
		&Balance{},
		&LedgerTransaction{},
		&CatalogItem{},
		&CatalogVariant{},
		&Order{},
		&OrderLine{},
		&WebhookEndpoint{},
		&WebhookDelivery{},
		&ChatIntegration{},
		&APICredential{},
	}
}

// AutoMigrate creates the schema for sqlite-backed local runs and tests.
// Postgres deployments use the goose migrations instead.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(All()...)
}
