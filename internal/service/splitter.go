package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"reconciliation-service/internal/models"
	"reconciliation-service/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DeliveryGroup — группа доставки из метаданных корзины: один получатель,
// подмножество позиций заказа.
type DeliveryGroup struct {
	ID            string      `json:"id"`
	RecipientName string      `json:"recipient_name"`
	ItemIDs       []uuid.UUID `json:"item_ids"`
}

type SplitResult struct {
	ParentID      uuid.UUID          `json:"parent_id"`
	ParentStatus  models.OrderStatus `json:"parent_status"`
	ChildIDs      []uuid.UUID        `json:"child_ids,omitempty"`
	Dispatched    int                `json:"dispatched"`
	Failed        int                `json:"failed"`
	SkippedGroups []string           `json:"skipped_groups,omitempty"`
	Passthrough   bool               `json:"passthrough"`
}

// Splitter раскладывает оплаченный заказ с несколькими группами доставки
// на независимые дочерние заказы и отправляет каждый в диспетчер.
type Splitter struct {
	repo       *repository.Repository
	dispatcher FulfillmentDispatcher
	retries    *RetryScheduler
	events     EventBus
	log        *zap.Logger
	cfg        Config
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewSplitter(repo *repository.Repository, dispatcher FulfillmentDispatcher, retries *RetryScheduler, events EventBus, log *zap.Logger, cfg Config) *Splitter {
	return &Splitter{
		repo:       repo,
		dispatcher: dispatcher,
		retries:    retries,
		events:     events,
		log:        log,
		cfg:        cfg,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// ProcessSplit выполняет полный цикл split-and-dispatch для одного заказа.
// Заказ без групп доставки уходит в диспетчер как есть (passthrough).
func (s *Splitter) ProcessSplit(ctx context.Context, orderID uuid.UUID) (SplitResult, error) {
	ord, err := s.repo.Orders.GetByID(ctx, orderID)
	if err != nil {
		return SplitResult{}, err
	}
	if ord == nil {
		return SplitResult{}, ErrOrderNotFound
	}

	// Сплит никогда не инициирует новое списание: он возможен только
	// по уже подтверждённой оплате.
	if ord.PaymentStatus != models.PaymentStatusSucceeded {
		return SplitResult{ParentID: ord.ID}, ErrPaymentNotSucceeded
	}

	groups, err := parseDeliveryGroups(ord)
	if err != nil {
		return SplitResult{ParentID: ord.ID}, err
	}
	if len(groups) < 2 {
		return s.passthrough(ctx, ord)
	}

	res := SplitResult{ParentID: ord.ID}

	parentSub := itemSubtotal(ord.Items)
	if parentSub <= 0 {
		return res, fmt.Errorf("order %s: empty or zero-subtotal item set", ord.OrderNumber)
	}

	var children []*models.Order
	err = s.repo.Orders.WithTx(ctx, func(txOrders repository.OrderRepo, txItems repository.OrderItemRepo) error {
		idx := 0
		for _, g := range groups {
			subset := itemsForGroup(ord.Items, g)
			if len(subset) == 0 {
				s.log.Warn("delivery group has no matching items, skipping",
					zap.String("order_id", ord.ID.String()),
					zap.String("group_id", g.ID))
				res.SkippedGroups = append(res.SkippedGroups, g.ID)
				continue
			}
			idx++

			groupSub := itemSubtotal(subset)
			shipping := apportionFee(ord.ShippingCents, groupSub, parentSub)
			tax := apportionFee(ord.TaxCents, groupSub, parentSub)
			gifting := apportionFee(ord.GiftingFeeCents, groupSub, parentSub)

			groupID := g.ID
			child := &models.Order{
				OrderNumber:       fmt.Sprintf("%s-%d", ord.OrderNumber, idx),
				Status:            models.OrderStatusPending,
				PaymentStatus:     models.PaymentStatusSucceeded,
				CheckoutSessionID: ord.CheckoutSessionID,
				PaymentIntentID:   ord.PaymentIntentID,
				FulfillmentMethod: models.FulfillmentMethodZMA,
				SubtotalCents:     groupSub,
				ShippingCents:     shipping,
				TaxCents:          tax,
				GiftingFeeCents:   gifting,
				TotalCents:        groupSub + shipping + tax + gifting,
				CurrencyCode:      ord.CurrencyCode,
				ParentOrderID:     &ord.ID,
				DeliveryGroupID:   &groupID,
				IsSplitOrder:      true,
			}
			if err := txOrders.Create(ctx, child); err != nil {
				return err
			}

			items := make([]models.OrderItem, 0, len(subset))
			for _, it := range subset {
				items = append(items, models.OrderItem{
					OrderID:         child.ID,
					ProductID:       it.ProductID,
					Quantity:        it.Quantity,
					UnitPriceCents:  it.UnitPriceCents,
					LineTotalCents:  it.LineTotalCents,
					RecipientName:   &g.RecipientName,
					DeliveryGroupID: &groupID,
				})
			}
			if err := txItems.BulkCreate(ctx, items); err != nil {
				return err
			}
			children = append(children, child)
		}

		if len(children) == 0 {
			return fmt.Errorf("order %s: no delivery group produced a child order", ord.OrderNumber)
		}

		// total_split_orders проставляется и детям, и родителю.
		for _, c := range children {
			if err := txOrders.MarkSplit(ctx, c.ID, len(children)); err != nil {
				return err
			}
		}
		return txOrders.MarkSplit(ctx, ord.ID, len(children))
	})
	if err != nil {
		return res, err
	}

	for _, c := range children {
		res.ChildIDs = append(res.ChildIDs, c.ID)
	}

	if err := appendAudit(ctx, s.repo.RecoveryLogs, ord.ID, "order_split", "success", "", map[string]any{
		"children":       len(children),
		"skipped_groups": res.SkippedGroups,
	}); err != nil {
		return res, err
	}

	// Диспатч детей последовательно; упавший ребёнок не откатывает уже
	// отправленных — он уходит в retry-расписание.
	for i, child := range children {
		if i > 0 {
			if err := s.sleep(ctx, s.cfg.InterOrderDelay); err != nil {
				return res, err
			}
		}
		opCtx, cancel := context.WithTimeout(ctx, s.cfg.PerOrderTimeout)
		ok := s.dispatchChild(opCtx, child)
		cancel()
		if ok {
			res.Dispatched++
		} else {
			res.Failed++
		}
	}

	parentTo := models.OrderStatusProcessing
	switch {
	case res.Dispatched == 0:
		parentTo = models.OrderStatusFailed
	case res.Failed > 0:
		parentTo = models.OrderStatusPartiallyProcessed
	}
	if _, err := applyTransition(ctx, s.repo.Orders, ord.ID,
		[]models.OrderStatus{models.OrderStatusPending, models.OrderStatusProcessing},
		parentTo, nil); err != nil {
		return res, err
	}
	res.ParentStatus = parentTo

	if s.events != nil {
		_ = s.events.PublishOrderSplit(ctx, OrderSplitEvent{
			ParentOrderID: ord.ID,
			ChildOrderIDs: res.ChildIDs,
			Dispatched:    res.Dispatched,
			Failed:        res.Failed,
			SplitAt:       s.now(),
		})
	}
	s.log.Info("split order processed",
		zap.String("order_id", ord.ID.String()),
		zap.Int("children", len(children)),
		zap.Int("dispatched", res.Dispatched),
		zap.Int("failed", res.Failed))
	return res, nil
}

// passthrough — заказ без групп доставки отправляется в диспетчер напрямую.
func (s *Splitter) passthrough(ctx context.Context, ord *models.Order) (SplitResult, error) {
	res := SplitResult{ParentID: ord.ID, Passthrough: true}

	claimed, err := applyTransition(ctx, s.repo.Orders, ord.ID,
		[]models.OrderStatus{models.OrderStatusPending, models.OrderStatusProcessing},
		models.OrderStatusProcessing, nil)
	if err != nil {
		return res, err
	}
	if !claimed {
		res.ParentStatus = ord.Status
		return res, nil
	}
	ord.Status = models.OrderStatusProcessing

	if s.dispatchChild(ctx, ord) {
		res.Dispatched = 1
		res.ParentStatus = models.OrderStatusProcessing
	} else {
		res.Failed = 1
		got, gerr := s.repo.Orders.GetByID(ctx, ord.ID)
		if gerr == nil && got != nil {
			res.ParentStatus = got.Status
		}
	}
	return res, nil
}

// dispatchChild отправляет один заказ; неуспех передаётся в retry-расписание.
func (s *Splitter) dispatchChild(ctx context.Context, child *models.Order) bool {
	res, err := s.dispatcher.Submit(ctx, child)
	if err == nil && res.Success {
		extra := map[string]any{}
		if res.ExternalRef != "" {
			extra["fulfillment_ref"] = res.ExternalRef
		}
		if _, uerr := applyTransition(ctx, s.repo.Orders, child.ID,
			[]models.OrderStatus{models.OrderStatusPending, models.OrderStatusProcessing},
			models.OrderStatusProcessing, extra); uerr != nil {
			s.log.Error("failed to record dispatch result", zap.String("order_id", child.ID.String()), zap.Error(uerr))
		}
		if aerr := appendAudit(ctx, s.repo.RecoveryLogs, child.ID, "dispatch", "success", "", map[string]any{
			"fulfillment_ref": res.ExternalRef,
		}); aerr != nil {
			s.log.Error("failed to append dispatch audit", zap.String("order_id", child.ID.String()), zap.Error(aerr))
		}
		return true
	}

	// Ребёнок мог быть создан в pending: переводим в processing, чтобы
	// HandleDispatchFailure работал от единого исходного статуса.
	if child.Status == models.OrderStatusPending {
		if _, uerr := applyTransition(ctx, s.repo.Orders, child.ID,
			[]models.OrderStatus{models.OrderStatusPending},
			models.OrderStatusProcessing, nil); uerr != nil {
			s.log.Error("failed to claim child for retry scheduling", zap.String("order_id", child.ID.String()), zap.Error(uerr))
			return false
		}
		child.Status = models.OrderStatusProcessing
	}
	if _, herr := s.retries.HandleDispatchFailure(ctx, child, dispatchErrorString(res, err)); herr != nil {
		s.log.Error("failed to schedule retry for child order", zap.String("order_id", child.ID.String()), zap.Error(herr))
	}
	return false
}

func parseDeliveryGroups(ord *models.Order) ([]DeliveryGroup, error) {
	if len(ord.DeliveryGroups) == 0 {
		return nil, nil
	}
	var groups []DeliveryGroup
	if err := json.Unmarshal(ord.DeliveryGroups, &groups); err != nil {
		return nil, fmt.Errorf("order %s: malformed delivery group metadata: %w", ord.OrderNumber, err)
	}
	return groups, nil
}

func itemsForGroup(items []models.OrderItem, g DeliveryGroup) []models.OrderItem {
	wanted := make(map[uuid.UUID]bool, len(g.ItemIDs))
	for _, id := range g.ItemIDs {
		wanted[id] = true
	}
	var subset []models.OrderItem
	for _, it := range items {
		if wanted[it.ProductID] || (it.DeliveryGroupID != nil && *it.DeliveryGroupID == g.ID) {
			subset = append(subset, it)
		}
	}
	return subset
}

func itemSubtotal(items []models.OrderItem) int64 {
	var sum int64
	for _, it := range items {
		sum += it.LineTotalCents
	}
	return sum
}

// apportionFee распределяет родительский сбор пропорционально доле группы
// в товарной сумме, с округлением до цента.
func apportionFee(fee, groupSub, parentSub int64) int64 {
	if fee <= 0 || groupSub <= 0 || parentSub <= 0 {
		return 0
	}
	return (fee*groupSub + parentSub/2) / parentSub
}
