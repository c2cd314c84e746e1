package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/merchcoin-backend/pkg/db/models"
	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
	"github.com/angelmondragon/merchcoin-backend/pkg/pagination"
)

// LineInput is one requested purchase line.
type LineInput struct {
	ItemID    uuid.UUID  `json:"itemId" validate:"required"`
	VariantID *uuid.UUID `json:"variantId,omitempty"`
	Quantity  int64      `json:"quantity" validate:"required,gt=0"`
}

// PlaceInput carries a buyer's cart.
type PlaceInput struct {
	TenantID    uuid.UUID
	BuyerID     uuid.UUID
	PerformedBy string
	Lines       []LineInput
}

// PlaceResult is returned once the order is committed and settlement attempted.
type PlaceResult struct {
	OrderID          uuid.UUID              `json:"orderId"`
	OrderNumber      int64                  `json:"orderNumber"`
	TotalCost        int64                  `json:"totalCost"`
	SettlementStatus enums.SettlementStatus `json:"settlementStatus"`
}

// CancelInput identifies the order to cancel and who cancelled it.
type CancelInput struct {
	TenantID    uuid.UUID
	OrderID     uuid.UUID
	CancelledBy string
}

// ListParams filters the order list.
type ListParams struct {
	TenantID uuid.UUID
	BuyerID  *uuid.UUID
	Page     pagination.Params
}

// OrderList is one page of orders.
type OrderList struct {
	Orders     []models.Order `json:"orders"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

// ReconcileResult summarizes a settlement reconciliation sweep.
type ReconcileResult struct {
	Scanned   int `json:"scanned"`
	Settled   int `json:"settled"`
	Failed    int `json:"failed"`
	Abandoned int `json:"abandoned"`
	Refunded  int `json:"refunded"`
}

// OrderEvent is the payload of every order.* notification.
type OrderEvent struct {
	OrderID          uuid.UUID              `json:"order_id"`
	OrderNumber      int64                  `json:"order_number"`
	BuyerID          uuid.UUID              `json:"buyer_id"`
	Status           enums.OrderStatus      `json:"status"`
	TotalCost        int64                  `json:"total_cost"`
	SettlementStatus enums.SettlementStatus `json:"settlement_status"`
	Error            string                 `json:"error,omitempty"`
	OccurredAt       time.Time              `json:"occurred_at"`
}

func newOrderEvent(order *models.Order, at time.Time) OrderEvent {
	return OrderEvent{
		OrderID:          order.ID,
		OrderNumber:      order.OrderNumber,
		BuyerID:          order.BuyerID,
		Status:           order.Status,
		TotalCost:        order.TotalCost,
		SettlementStatus: order.SettlementStatus,
		OccurredAt:       at.UTC(),
	}
}
