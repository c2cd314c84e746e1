package orders

import (
	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/merchcoin-backend/pkg/errors"
)

var allowedTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:  {enums.OrderStatusApproved, enums.OrderStatusCancelled},
	enums.OrderStatusApproved: {enums.OrderStatusFulfilled, enums.OrderStatusCancelled},
}

// CanTransition reports whether the order status machine permits from -> to.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func ensureTransition(from, to enums.OrderStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "order status transition not allowed").
		WithDetails(map[string]any{"from": string(from), "to": string(to)})
}
