package service

import (
	"context"

	"reconciliation-service/internal/models"
	"reconciliation-service/internal/repository"

	"github.com/google/uuid"
)

// Таблица переходов статусов заказа. Любой переход вне таблицы запрещён,
// терминальные статусы (completed/failed/cancelled) не имеют исходящих рёбер.
var orderTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending: {
		models.OrderStatusProcessing,
		models.OrderStatusPartiallyProcessed,
		models.OrderStatusFailed,
		models.OrderStatusCancelled,
	},
	models.OrderStatusProcessing: {
		models.OrderStatusRetryPending,
		models.OrderStatusCompleted,
		models.OrderStatusPartiallyProcessed,
		models.OrderStatusFailed,
		models.OrderStatusCancelled,
	},
	models.OrderStatusRetryPending: {
		models.OrderStatusProcessing,
		models.OrderStatusFailed,
		models.OrderStatusCancelled,
	},
	models.OrderStatusPartiallyProcessed: {
		models.OrderStatusCompleted,
		models.OrderStatusFailed,
	},
	models.OrderStatusCompleted: {},
	models.OrderStatusFailed:    {},
	models.OrderStatusCancelled: {},
}

func CanTransition(from, to models.OrderStatus) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanTransitionPayment: succeeded — монотонный терминал, откат невозможен.
// failed -> succeeded допустим: шлюз мог подтвердить оплату после сбоя сверки.
func CanTransitionPayment(from, to models.PaymentStatus) bool {
	if from == to {
		return false
	}
	if from == models.PaymentStatusSucceeded {
		return false
	}
	return to == models.PaymentStatusSucceeded || to == models.PaymentStatusFailed
}

// cancellableStatuses — статусы, в которых дубликат можно отменить.
var cancellableStatuses = []models.OrderStatus{
	models.OrderStatusPending,
	models.OrderStatusProcessing,
	models.OrderStatusRetryPending,
}

func IsCancellable(s models.OrderStatus) bool {
	for _, c := range cancellableStatuses {
		if c == s {
			return true
		}
	}
	return false
}

func IsTerminal(s models.OrderStatus) bool {
	return len(orderTransitions[s]) == 0
}

// recoverableStatuses — статусы, в которых допустима фиксация поздно
// подтверждённой оплаты: источники перехода в processing по таблице,
// плюс сам processing (оплата фиксируется без смены статуса).
func recoverableStatuses() []models.OrderStatus {
	out := []models.OrderStatus{models.OrderStatusProcessing}
	for from := range orderTransitions {
		if CanTransition(from, models.OrderStatusProcessing) {
			out = append(out, from)
		}
	}
	return out
}

// transitionSet отфильтровывает from до переходов, разрешённых таблицей.
// Обновление колонок без смены статуса (from == to) переходом не считается
// и проходит всегда.
func transitionSet(from []models.OrderStatus, to models.OrderStatus) []models.OrderStatus {
	var out []models.OrderStatus
	for _, f := range from {
		if f == to || CanTransition(f, to) {
			out = append(out, f)
		}
	}
	return out
}

// applyTransition — условное обновление статуса, пропущенное через таблицу
// переходов. Набор from, в котором таблица не разрешает ни одного ребра в to,
// означает ошибку в вызывающем коде.
func applyTransition(ctx context.Context, orders repository.OrderRepo, id uuid.UUID, from []models.OrderStatus, to models.OrderStatus, extra map[string]any) (bool, error) {
	allowed := transitionSet(from, to)
	if len(allowed) == 0 {
		return false, ErrInvalidTransition
	}
	return orders.UpdateStatusIf(ctx, id, allowed, to, extra)
}
