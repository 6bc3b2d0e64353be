package service

import (
	"context"

	"reconciliation-service/internal/models"

	"github.com/google/uuid"
)

// PaymentState — авторитетное состояние платежа на стороне шлюза.
type PaymentState string

const (
	PaymentStatePending   PaymentState = "pending"
	PaymentStateSucceeded PaymentState = "succeeded"
	PaymentStateCanceled  PaymentState = "canceled"
	PaymentStateFailed    PaymentState = "failed"
)

type GatewayStatus struct {
	State       PaymentState
	AmountCents int64
}

type PaymentGateway interface {
	GetPaymentStatus(ctx context.Context, ref string) (GatewayStatus, error)
	// CancelPayment — необязательная операция, best-effort.
	CancelPayment(ctx context.Context, ref string) error
}

type DispatchResult struct {
	Success     bool
	ExternalRef string
	Error       string
}

type FulfillmentDispatcher interface {
	Submit(ctx context.Context, o *models.Order) (DispatchResult, error)
	// Cancel — best-effort отмена уже отправленного запроса.
	Cancel(ctx context.Context, externalRef string) error
}

// ExecutionTracker отмечает терминальный провал исполнения авто-правила
// (автоподарка), чтобы правило не осталось молча зависшим.
type ExecutionTracker interface {
	MarkExecutionFailed(ctx context.Context, executionID uuid.UUID, reason string) error
}
