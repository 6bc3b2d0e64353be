package service

import (
	"context"
	"fmt"
	"time"

	"reconciliation-service/internal/models"
	"reconciliation-service/internal/repository"

	"go.uber.org/zap"
)

// RetryScheduler обрабатывает заказы в retry_pending: переводит их в работу
// по условному обновлению, повторяет диспатч и планирует следующую попытку
// либо терминально проваливает заказ по исчерпании лимита.
type RetryScheduler struct {
	repo       *repository.Repository
	dispatcher FulfillmentDispatcher
	tracker    ExecutionTracker
	events     EventBus
	log        *zap.Logger
	cfg        Config
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewRetryScheduler(repo *repository.Repository, dispatcher FulfillmentDispatcher, tracker ExecutionTracker, events EventBus, log *zap.Logger, cfg Config) *RetryScheduler {
	return &RetryScheduler{
		repo:       repo,
		dispatcher: dispatcher,
		tracker:    tracker,
		events:     events,
		log:        log,
		cfg:        cfg,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// ProcessDueRetries — плановая развёртка: выбирает созревшие retry_pending
// заказы (старые — первыми, пакет ограничен) и пробует диспатч повторно.
func (s *RetryScheduler) ProcessDueRetries(ctx context.Context) (Summary, error) {
	sum := Summary{Operation: "retry_sweep", StartedAt: s.now()}

	due, err := s.repo.Orders.ListDueRetries(ctx, s.now(), s.cfg.RetryBatchSize)
	if err != nil {
		sum.FinishedAt = s.now()
		return sum, err
	}

	for i, ord := range due {
		if i > 0 {
			if err := s.sleep(ctx, s.cfg.InterOrderDelay); err != nil {
				sum.FinishedAt = s.now()
				return sum, err
			}
		}
		sum.Processed++

		opCtx, cancel := context.WithTimeout(ctx, s.cfg.PerOrderTimeout)
		outcome, err := s.retryOne(opCtx, ord)
		cancel()

		switch {
		case err != nil:
			sum.Failed++
			sum.Errors = append(sum.Errors, ItemError{OrderID: ord.ID, Error: err.Error()})
		case outcome == retrySkipped:
			sum.Skipped++
		case outcome == retryDispatched:
			sum.Succeeded++
		default:
			sum.Failed++
		}
	}

	sum.FinishedAt = s.now()
	s.log.Info("retry sweep finished",
		zap.Int("processed", sum.Processed),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped))
	return sum, nil
}

type retryOutcome int

const (
	retrySkipped retryOutcome = iota
	retryDispatched
	retryRequeued
	retryExhausted
)

func (s *RetryScheduler) retryOne(ctx context.Context, ord *models.Order) (retryOutcome, error) {
	// Claim через условное обновление: конкурентная развёртка, успевшая
	// первой, делает наш переход no-op.
	claim := map[string]any{}
	if ord.FulfillmentMethod != models.FulfillmentMethodZMA {
		// Старые заказы могли остаться с выведенным из эксплуатации методом —
		// повтор с ним молча бы провалился.
		s.log.Warn("normalizing legacy fulfillment method",
			zap.String("order_id", ord.ID.String()),
			zap.String("method", ord.FulfillmentMethod))
		claim["fulfillment_method"] = models.FulfillmentMethodZMA
		ord.FulfillmentMethod = models.FulfillmentMethodZMA
	}
	claimed, err := applyTransition(ctx, s.repo.Orders, ord.ID,
		[]models.OrderStatus{models.OrderStatusRetryPending},
		models.OrderStatusProcessing, claim)
	if err != nil {
		return retrySkipped, err
	}
	if !claimed {
		return retrySkipped, nil
	}
	ord.Status = models.OrderStatusProcessing

	res, derr := s.dispatcher.Submit(ctx, ord)
	if derr == nil && res.Success {
		extra := map[string]any{"next_retry_at": nil}
		if res.ExternalRef != "" {
			extra["fulfillment_ref"] = res.ExternalRef
		}
		if _, err := applyTransition(ctx, s.repo.Orders, ord.ID,
			[]models.OrderStatus{models.OrderStatusProcessing},
			models.OrderStatusProcessing, extra); err != nil {
			return retryDispatched, err
		}
		if err := appendAudit(ctx, s.repo.RecoveryLogs, ord.ID, "retry_dispatch", "success", "", map[string]any{
			"attempt":         ord.RetryCount + 1,
			"fulfillment_ref": res.ExternalRef,
		}); err != nil {
			return retryDispatched, err
		}
		return retryDispatched, nil
	}

	reason := dispatchErrorString(res, derr)
	return s.HandleDispatchFailure(ctx, ord, reason)
}

// HandleDispatchFailure применяется к заказу в processing, у которого
// только что провалился вызов диспетчера: либо планирует повтор с
// бэкоффом, либо терминально проваливает заказ по достижении лимита.
func (s *RetryScheduler) HandleDispatchFailure(ctx context.Context, ord *models.Order, reason string) (retryOutcome, error) {
	attempt := ord.RetryCount + 1

	if attempt >= s.cfg.MaxRetries {
		applied, err := applyTransition(ctx, s.repo.Orders, ord.ID,
			[]models.OrderStatus{models.OrderStatusProcessing},
			models.OrderStatusFailed,
			map[string]any{"retry_count": attempt, "next_retry_at": nil})
		if err != nil {
			return retryExhausted, err
		}
		if !applied {
			return retrySkipped, nil
		}
		if err := appendAudit(ctx, s.repo.RecoveryLogs, ord.ID, "retry_exhausted", "failed", reason, map[string]any{
			"attempt": attempt,
		}); err != nil {
			return retryExhausted, err
		}
		if ord.AutoExecutionID != nil && s.tracker != nil {
			msg := fmt.Sprintf("order %s failed after %d fulfillment attempts: %s", ord.OrderNumber, attempt, reason)
			if terr := s.tracker.MarkExecutionFailed(ctx, *ord.AutoExecutionID, msg); terr != nil {
				s.log.Error("failed to mark automated execution as failed",
					zap.String("order_id", ord.ID.String()),
					zap.Error(terr))
			}
		}
		if s.events != nil {
			_ = s.events.PublishDispatchFailed(ctx, DispatchFailedEvent{
				OrderID:     ord.ID,
				OrderNumber: ord.OrderNumber,
				RetryCount:  attempt,
				Terminal:    true,
				Reason:      reason,
				FailedAt:    s.now(),
			})
		}
		s.log.Warn("order failed terminally after exhausting retries",
			zap.String("order_id", ord.ID.String()),
			zap.Int("attempts", attempt),
			zap.String("reason", reason))
		return retryExhausted, nil
	}

	next := s.now().Add(Backoff(attempt))
	applied, err := applyTransition(ctx, s.repo.Orders, ord.ID,
		[]models.OrderStatus{models.OrderStatusProcessing},
		models.OrderStatusRetryPending,
		map[string]any{"retry_count": attempt, "next_retry_at": next})
	if err != nil {
		return retryRequeued, err
	}
	if !applied {
		return retrySkipped, nil
	}
	if err := appendAudit(ctx, s.repo.RecoveryLogs, ord.ID, "retry_scheduled", "retry_pending", reason, map[string]any{
		"attempt":       attempt,
		"next_retry_at": next,
	}); err != nil {
		return retryRequeued, err
	}
	if s.events != nil {
		_ = s.events.PublishDispatchFailed(ctx, DispatchFailedEvent{
			OrderID:     ord.ID,
			OrderNumber: ord.OrderNumber,
			RetryCount:  attempt,
			Terminal:    false,
			Reason:      reason,
			FailedAt:    s.now(),
		})
	}
	return retryRequeued, nil
}

func dispatchErrorString(res DispatchResult, err error) string {
	if err != nil {
		return err.Error()
	}
	if res.Error != "" {
		return res.Error
	}
	return "dispatcher rejected order"
}
