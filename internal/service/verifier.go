package service

import (
	"context"
	"time"

	"reconciliation-service/internal/models"
	"reconciliation-service/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type VerificationOutcome string

const (
	VerificationPending   VerificationOutcome = "pending"
	VerificationSucceeded VerificationOutcome = "succeeded"
	VerificationFailed    VerificationOutcome = "failed"
)

type VerificationResult struct {
	Outcome     VerificationOutcome `json:"outcome"`
	Corrected   bool                `json:"corrected"`
	Reason      string              `json:"reason,omitempty"`
	OrderID     *uuid.UUID          `json:"order_id,omitempty"`
	Discrepancy *Discrepancy        `json:"discrepancy,omitempty"`
}

func (r VerificationResult) Terminal() bool {
	return r.Outcome != VerificationPending
}

// Verifier сверяет состояние платежа в шлюзе с записью заказа и
// устраняет дрейф (только в сторону подтверждения оплаты).
type Verifier struct {
	repo    *repository.Repository
	gateway PaymentGateway
	events  EventBus
	log     *zap.Logger
	cfg     Config
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewVerifier(repo *repository.Repository, gateway PaymentGateway, events EventBus, log *zap.Logger, cfg Config) *Verifier {
	return &Verifier{
		repo:    repo,
		gateway: gateway,
		events:  events,
		log:     log,
		cfg:     cfg,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// VerifyPayment выполняет одну попытку сверки по внешней ссылке платежа
// (checkout session id либо payment intent id).
func (v *Verifier) VerifyPayment(ctx context.Context, ref string) (VerificationResult, error) {
	if ref == "" {
		return VerificationResult{}, ErrEmptyReference
	}

	gw, err := v.gateway.GetPaymentStatus(ctx, ref)
	if err != nil {
		return VerificationResult{}, err
	}

	ord, err := v.repo.Orders.GetByPaymentRef(ctx, ref)
	if err != nil {
		return VerificationResult{}, err
	}
	if ord == nil {
		// Заказ мог ещё не успеть записаться после чекаута — это не ошибка.
		return VerificationResult{Outcome: VerificationPending, Reason: "order not persisted yet"}, nil
	}

	method := "payment_intent"
	if ord.CheckoutSessionID != nil && *ord.CheckoutSessionID == ref {
		method = "checkout_session"
	}

	res := VerificationResult{OrderID: &ord.ID}

	// Расхождение суммы фиксируется для ручного разбора и блокирует автокоррекцию.
	diff := gw.AmountCents - ord.TotalCents
	if diff < 0 {
		diff = -diff
	}
	if gw.AmountCents > 0 && diff > v.cfg.AmountToleranceCents {
		d := Discrepancy{
			OrderID: ord.ID,
			Kind:    "amount_mismatch",
			Detail:  "gateway amount differs from stored total beyond tolerance",
		}
		res.Discrepancy = &d
		if err := appendAudit(ctx, v.repo.RecoveryLogs, ord.ID, "payment_verification", "discrepancy", d.Detail, map[string]any{
			"method":        method,
			"gateway_cents": gw.AmountCents,
			"stored_cents":  ord.TotalCents,
		}); err != nil {
			return res, err
		}
		res.Outcome = v.outcomeFor(gw.State)
		return res, nil
	}

	switch gw.State {
	case PaymentStateSucceeded:
		res.Outcome = VerificationSucceeded
		if ord.PaymentStatus == models.PaymentStatusSucceeded {
			// Уже зафиксировано — повторная сверка является no-op.
			return res, appendAudit(ctx, v.repo.RecoveryLogs, ord.ID, "payment_verification", "noop", "", map[string]any{"method": method})
		}
		if IsTerminal(ord.Status) {
			// Терминальный заказ с неоплаченным платежом (например, дубликат,
			// отменённый до подтверждения общей checkout-сессии) фиксация
			// оплаты не воскрешает — только расхождение для ручного разбора.
			d := Discrepancy{
				OrderID: ord.ID,
				Kind:    "status_mismatch",
				Detail:  "gateway succeeded but order is terminal",
			}
			res.Discrepancy = &d
			return res, appendAudit(ctx, v.repo.RecoveryLogs, ord.ID, "payment_verification", "discrepancy", d.Detail, map[string]any{
				"method":       method,
				"order_status": ord.Status,
			})
		}
		applied, err := v.repo.Orders.MarkPaymentSucceeded(ctx, ord.ID, recoverableStatuses())
		if err != nil {
			return res, err
		}
		res.Corrected = applied
		auditStatus := "recovered"
		if !applied {
			auditStatus = "noop"
		}
		if err := appendAudit(ctx, v.repo.RecoveryLogs, ord.ID, "payment_verification", auditStatus, "", map[string]any{
			"method":        method,
			"gateway_cents": gw.AmountCents,
		}); err != nil {
			return res, err
		}
		if applied {
			v.log.Info("payment verification recovered order",
				zap.String("order_id", ord.ID.String()),
				zap.String("method", method))
			if v.events != nil {
				_ = v.events.PublishPaymentRecovered(ctx, PaymentRecoveredEvent{
					OrderID:     ord.ID,
					OrderNumber: ord.OrderNumber,
					Method:      method,
					AmountCents: gw.AmountCents,
					RecoveredAt: v.now(),
				})
			}
		}
		return res, nil

	case PaymentStateCanceled:
		res.Outcome = VerificationFailed
		res.Reason = "gateway reports canceled"
		if ord.Status != models.OrderStatusCancelled {
			// Несогласованная комбинация статусов — только фиксируем.
			d := Discrepancy{
				OrderID: ord.ID,
				Kind:    "status_mismatch",
				Detail:  "gateway canceled but order is not cancelled",
			}
			res.Discrepancy = &d
			if err := appendAudit(ctx, v.repo.RecoveryLogs, ord.ID, "payment_verification", "discrepancy", d.Detail, map[string]any{"method": method}); err != nil {
				return res, err
			}
			return res, nil
		}
		return res, appendAudit(ctx, v.repo.RecoveryLogs, ord.ID, "payment_verification", "noop", "", map[string]any{"method": method})

	case PaymentStateFailed:
		res.Outcome = VerificationFailed
		res.Reason = "gateway reports failed"
		// Окончательный отказ шлюза терминален для заказа, ждущего оплату.
		if ord.Status == models.OrderStatusPending && ord.PaymentStatus == models.PaymentStatusPending {
			applied, err := applyTransition(ctx, v.repo.Orders, ord.ID,
				[]models.OrderStatus{models.OrderStatusPending},
				models.OrderStatusFailed,
				map[string]any{"payment_status": models.PaymentStatusFailed})
			if err != nil {
				return res, err
			}
			res.Corrected = applied
		}
		return res, appendAudit(ctx, v.repo.RecoveryLogs, ord.ID, "payment_verification", "failed", res.Reason, map[string]any{"method": method})

	default:
		res.Outcome = VerificationPending
		return res, appendAudit(ctx, v.repo.RecoveryLogs, ord.ID, "payment_verification", "pending", "", map[string]any{"method": method})
	}
}

func (v *Verifier) outcomeFor(state PaymentState) VerificationOutcome {
	switch state {
	case PaymentStateSucceeded:
		return VerificationSucceeded
	case PaymentStateCanceled, PaymentStateFailed:
		return VerificationFailed
	default:
		return VerificationPending
	}
}

// VerifyWithRetry повторяет сверку по переданному расписанию пауз и
// возвращается при первом терминальном состоянии. Исчерпание попыток при
// всё ещё pending — провал отчёта о платеже, не провал самого платежа.
func (v *Verifier) VerifyWithRetry(ctx context.Context, ref string, delays []time.Duration) (VerificationResult, error) {
	attempts := len(delays) + 1
	var last VerificationResult
	for i := 0; i < attempts; i++ {
		res, err := v.VerifyPayment(ctx, ref)
		if err == nil && res.Terminal() {
			return res, nil
		}
		if err != nil {
			// Транзиентная ошибка шлюза: попытка сгорает, цикл продолжается.
			v.log.Warn("payment verification attempt failed", zap.String("ref", ref), zap.Error(err))
		} else {
			last = res
		}
		if i < len(delays) {
			if serr := v.sleep(ctx, delays[i]); serr != nil {
				return last, serr
			}
		}
	}
	last.Outcome = VerificationFailed
	last.Reason = "verification timeout"
	return last, nil
}

// ReconcileStuck — плановая развёртка по заказам с зависшей оплатой.
// Обрабатывает последовательно с паузой между заказами, чтобы не
// перегружать шлюз; ошибки отдельных заказов не прерывают пакет.
func (v *Verifier) ReconcileStuck(ctx context.Context) (Summary, error) {
	sum := Summary{Operation: "payment_reconciliation", StartedAt: v.now()}

	cutoff := v.now().Add(-v.cfg.StuckPaymentAge)
	orders, err := v.repo.Orders.ListStuckPayments(ctx, cutoff, v.cfg.ReconcileBatchSize)
	if err != nil {
		sum.FinishedAt = v.now()
		return sum, err
	}

	for i, ord := range orders {
		if i > 0 {
			if err := v.sleep(ctx, v.cfg.InterOrderDelay); err != nil {
				sum.FinishedAt = v.now()
				return sum, err
			}
		}
		sum.Processed++

		ref := paymentRefOf(ord)
		if ref == "" {
			sum.Failed++
			sum.Errors = append(sum.Errors, ItemError{OrderID: ord.ID, Error: ErrMissingPaymentRef.Error()})
			continue
		}

		opCtx, cancel := context.WithTimeout(ctx, v.cfg.PerOrderTimeout)
		res, err := v.VerifyPayment(opCtx, ref)
		cancel()
		if err != nil {
			sum.Failed++
			sum.Errors = append(sum.Errors, ItemError{OrderID: ord.ID, Error: err.Error()})
			continue
		}
		if res.Corrected {
			sum.Corrected++
		}
		if res.Discrepancy != nil {
			sum.Discrepancies = append(sum.Discrepancies, *res.Discrepancy)
		}
		switch res.Outcome {
		case VerificationSucceeded:
			sum.Succeeded++
		case VerificationFailed:
			sum.Failed++
		default:
			sum.Skipped++
		}
	}

	sum.FinishedAt = v.now()
	v.log.Info("payment reconciliation sweep finished",
		zap.Int("processed", sum.Processed),
		zap.Int("corrected", sum.Corrected),
		zap.Int("discrepancies", len(sum.Discrepancies)))
	return sum, nil
}

func paymentRefOf(o *models.Order) string {
	if o.CheckoutSessionID != nil && *o.CheckoutSessionID != "" {
		return *o.CheckoutSessionID
	}
	if o.PaymentIntentID != nil && *o.PaymentIntentID != "" {
		return *o.PaymentIntentID
	}
	return ""
}
