package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
)

// Order is a purchase placed by a buyer within a tenant.
type Order struct {
	ID                  uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	TenantID            uuid.UUID              `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:ux_orders_tenant_number,priority:1"`
	OrderNumber         int64                  `gorm:"column:order_number;not null;uniqueIndex:ux_orders_tenant_number,priority:2"`
	BuyerID             uuid.UUID              `gorm:"column:buyer_id;type:uuid;not null;index"`
	Status              enums.OrderStatus      `gorm:"column:status;type:text;not null"`
	TotalCost           int64                  `gorm:"column:total_cost;not null"`
	SettlementStatus    enums.SettlementStatus `gorm:"column:settlement_status;type:text;not null;index"`
	SettlementAttempts  int                    `gorm:"column:settlement_attempts;not null"`
	SettlementError     *string                `gorm:"column:settlement_error"`
	DebitTransactionID  *uuid.UUID             `gorm:"column:debit_transaction_id;type:uuid"`
	RefundTransactionID *uuid.UUID             `gorm:"column:refund_transaction_id;type:uuid"`
	CancelledBy         *string                `gorm:"column:cancelled_by"`
	ApprovedAt          *time.Time             `gorm:"column:approved_at"`
	FulfilledAt         *time.Time             `gorm:"column:fulfilled_at"`
	CancelledAt         *time.Time             `gorm:"column:cancelled_at"`
	Lines               []OrderLine            `gorm:"foreignKey:OrderID"`
	CreatedAt           time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// OrderLine snapshots the purchased item at the time of the order.
type OrderLine struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	TenantID    uuid.UUID         `gorm:"column:tenant_id;type:uuid;not null"`
	OrderID     uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index"`
	ItemID      uuid.UUID         `gorm:"column:item_id;type:uuid;not null"`
	VariantID   *uuid.UUID        `gorm:"column:variant_id;type:uuid"`
	ItemName    string            `gorm:"column:item_name;not null"`
	VariantName *string           `gorm:"column:variant_name"`
	UnitPrice   int64             `gorm:"column:unit_price;not null"`
	Quantity    int64             `gorm:"column:quantity;not null"`
	LineTotal   int64             `gorm:"column:line_total;not null"`
	Options     datatypes.JSONMap `gorm:"column:options"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (OrderLine) TableName() string { return "order_lines" }

func (l *OrderLine) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return nil
}
