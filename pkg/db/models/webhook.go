package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
)

// WebhookEndpoint is a tenant-registered receiver of signed event posts.
type WebhookEndpoint struct {
	ID          uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	TenantID    uuid.UUID                   `gorm:"column:tenant_id;type:uuid;not null;index"`
	URL         string                      `gorm:"column:url;not null"`
	Secret      string                      `gorm:"column:secret;not null"`
	Events      datatypes.JSONSlice[string] `gorm:"column:events;not null"`
	Description *string                     `gorm:"column:description"`
	Active      bool                        `gorm:"column:active;not null"`
	CreatedAt   time.Time                   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
}

func (WebhookEndpoint) TableName() string { return "webhook_endpoints" }

func (e *WebhookEndpoint) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}

// Subscribes reports whether the endpoint wants the event.
func (e WebhookEndpoint) Subscribes(event enums.EventType) bool {
	for _, candidate := range e.Events {
		if candidate == string(enums.EventWildcard) || candidate == string(event) {
			return true
		}
	}
	return false
}

// WebhookDelivery tracks the attempts to send one event to one endpoint.
type WebhookDelivery struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	TenantID       uuid.UUID            `gorm:"column:tenant_id;type:uuid;not null;index"`
	EndpointID     uuid.UUID            `gorm:"column:endpoint_id;type:uuid;not null;index"`
	Event          enums.EventType      `gorm:"column:event;type:text;not null"`
	Payload        datatypes.JSON       `gorm:"column:payload;not null"`
	Status         enums.DeliveryStatus `gorm:"column:status;type:text;not null;index:ix_webhook_deliveries_due,priority:1"`
	Attempts       int                  `gorm:"column:attempts;not null"`
	NextRetryAt    *time.Time           `gorm:"column:next_retry_at;index:ix_webhook_deliveries_due,priority:2"`
	LastAttemptAt  *time.Time           `gorm:"column:last_attempt_at"`
	ResponseStatus *int                 `gorm:"column:response_status"`
	ResponseBody   *string              `gorm:"column:response_body"`
	LastError      *string              `gorm:"column:last_error"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (WebhookDelivery) TableName() string { return "webhook_deliveries" }

func (d *WebhookDelivery) BeforeCreate(*gorm.DB) error {
	ensureID(&d.ID)
	return nil
}

// ChatIntegration is a best-effort chat destination for tenant events.
type ChatIntegration struct {
	ID         uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	TenantID   uuid.UUID                   `gorm:"column:tenant_id;type:uuid;not null;index"`
	Provider   string                      `gorm:"column:provider;not null"`
	WebhookURL string                      `gorm:"column:webhook_url;not null"`
	Events     datatypes.JSONSlice[string] `gorm:"column:events;not null"`
	Active     bool                        `gorm:"column:active;not null"`
	CreatedAt  time.Time                   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
}

func (ChatIntegration) TableName() string { return "chat_integrations" }

func (c *ChatIntegration) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// Subscribes reports whether the integration wants the event.
func (c ChatIntegration) Subscribes(event enums.EventType) bool {
	for _, candidate := range c.Events {
		if candidate == string(enums.EventWildcard) || candidate == string(event) {
			return true
		}
	}
	return false
}
