package service

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type PaymentRecoveredEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Method      string    `json:"method"`
	AmountCents int64     `json:"amount_cents"`
	RecoveredAt time.Time `json:"recovered_at"`
}

type DispatchFailedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	RetryCount  int       `json:"retry_count"`
	Terminal    bool      `json:"terminal"`
	Reason      string    `json:"reason,omitempty"`
	FailedAt    time.Time `json:"failed_at"`
}

type OrderSplitEvent struct {
	ParentOrderID uuid.UUID   `json:"parent_order_id"`
	ChildOrderIDs []uuid.UUID `json:"child_order_ids"`
	Dispatched    int         `json:"dispatched"`
	Failed        int         `json:"failed"`
	SplitAt       time.Time   `json:"split_at"`
}

type DuplicateCancelledEvent struct {
	OrderID        uuid.UUID `json:"order_id"`
	OriginalID     uuid.UUID `json:"original_id"`
	FulfillmentRef string    `json:"fulfillment_ref"`
	CancelledAt    time.Time `json:"cancelled_at"`
}

type EventBus interface {
	PublishPaymentRecovered(ctx context.Context, e PaymentRecoveredEvent) error
	PublishDispatchFailed(ctx context.Context, e DispatchFailedEvent) error
	PublishOrderSplit(ctx context.Context, e OrderSplitEvent) error
	PublishDuplicateCancelled(ctx context.Context, e DuplicateCancelledEvent) error
}
