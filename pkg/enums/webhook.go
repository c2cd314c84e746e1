package enums

import "fmt"

// DeliveryStatus maps to the webhook_delivery_status enum in Postgres.
type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "pending"
	DeliveryStatusSuccess DeliveryStatus = "success"
	DeliveryStatusFailed  DeliveryStatus = "failed"
)

var validDeliveryStatuses = []DeliveryStatus{
	DeliveryStatusPending,
	DeliveryStatusSuccess,
	DeliveryStatusFailed,
}

// IsValid reports whether the value matches a known delivery status.
func (s DeliveryStatus) IsValid() bool {
	for _, candidate := range validDeliveryStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// EventType names a notification emitted to webhook endpoints and sinks.
type EventType string

const (
	EventWildcard EventType = "*"

	EventCurrencyCredited      EventType = "currency.credited"
	EventCurrencyDebited       EventType = "currency.debited"
	EventCurrencyDistributed   EventType = "currency.distributed"
	EventCurrencyAdjusted      EventType = "currency.adjusted"
	EventOrderCreated          EventType = "order.created"
	EventOrderApproved         EventType = "order.approved"
	EventOrderFulfilled        EventType = "order.fulfilled"
	EventOrderCancelled        EventType = "order.cancelled"
	EventOrderSettlementFailed EventType = "order.settlement_failed"
)

var validEventTypes = []EventType{
	EventCurrencyCredited,
	EventCurrencyDebited,
	EventCurrencyDistributed,
	EventCurrencyAdjusted,
	EventOrderCreated,
	EventOrderApproved,
	EventOrderFulfilled,
	EventOrderCancelled,
	EventOrderSettlementFailed,
}

// IsValid reports whether the value matches a known event type.
func (e EventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEventSubscription accepts a known event type or the wildcard.
func ParseEventSubscription(value string) (EventType, error) {
	if EventType(value) == EventWildcard {
		return EventWildcard, nil
	}
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
