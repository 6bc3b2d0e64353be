package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reconciliation-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OrderRepo interface {
	Create(ctx context.Context, o *models.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	// GetByPaymentRef ищет заказ по checkout session id или payment intent id.
	GetByPaymentRef(ctx context.Context, ref string) (*models.Order, error)
	NextOrderNumber(ctx context.Context) (string, error)

	// UpdateStatusIf выполняет условный переход: строка обновляется только если
	// текущий статус входит в from. Возвращает false, если переход не применён
	// (конкурентный запуск уже обработал заказ).
	UpdateStatusIf(ctx context.Context, id uuid.UUID, from []models.OrderStatus, to models.OrderStatus, extra map[string]any) (bool, error)

	// MarkPaymentSucceeded атомарно фиксирует оплату: payment_status -> succeeded,
	// status -> processing, только если оплата ещё не зафиксирована и текущий
	// статус входит в from. Терминальный заказ фиксация оплаты не воскрешает.
	MarkPaymentSucceeded(ctx context.Context, id uuid.UUID, from []models.OrderStatus) (bool, error)

	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*models.Order, error)
	ListStuckPayments(ctx context.Context, olderThan time.Time, limit int) ([]*models.Order, error)
	ListWithFulfillmentRef(ctx context.Context) ([]*models.Order, error)
	ListChildren(ctx context.Context, parentID uuid.UUID) ([]*models.Order, error)

	AppendNote(ctx context.Context, id uuid.UUID, note string) error
	MarkSplit(ctx context.Context, parentID uuid.UUID, totalSplitOrders int) error

	WithTx(ctx context.Context, fn func(txOrders OrderRepo, txItems OrderItemRepo) error) error
}

type orderRepo struct{ db *gorm.DB }

func NewOrderRepo(db *gorm.DB) OrderRepo { return &orderRepo{db: db} }

func (r *orderRepo) Create(ctx context.Context, o *models.Order) error {
	return r.db.WithContext(ctx).Create(o).Error
}

func (r *orderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var ord models.Order
	err := r.db.WithContext(ctx).Preload("Items").First(&ord, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &ord, err
}

func (r *orderRepo) GetByPaymentRef(ctx context.Context, ref string) (*models.Order, error) {
	var ord models.Order
	err := r.db.WithContext(ctx).Preload("Items").
		First(&ord, "checkout_session_id = ? OR payment_intent_id = ?", ref, ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &ord, err
}

func (r *orderRepo) NextOrderNumber(ctx context.Context) (string, error) {
	var n int64
	if err := r.db.WithContext(ctx).Raw(`SELECT nextval('order_number_seq')`).Scan(&n).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%d", n), nil
}

func (r *orderRepo) UpdateStatusIf(ctx context.Context, id uuid.UUID, from []models.OrderStatus, to models.OrderStatus, extra map[string]any) (bool, error) {
	upd := map[string]any{"status": to}
	for k, v := range extra {
		upd[k] = v
	}

	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(upd)
	return res.RowsAffected > 0, res.Error
}

func (r *orderRepo) MarkPaymentSucceeded(ctx context.Context, id uuid.UUID, from []models.OrderStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND payment_status <> ? AND status IN ?", id, models.PaymentStatusSucceeded, from).
		Updates(map[string]any{
			"payment_status": models.PaymentStatusSucceeded,
			"status":         models.OrderStatusProcessing,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *orderRepo) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*models.Order, error) {
	var list []*models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?", models.OrderStatusRetryPending, now).
		Order("next_retry_at ASC").
		Limit(limit).
		Preload("Items").
		Find(&list).Error
	return list, err
}

// ListStuckPayments не выбирает терминальные заказы: отменённый или
// проваленный заказ с зависшей оплатой — предмет ручного разбора, не сверки.
func (r *orderRepo) ListStuckPayments(ctx context.Context, olderThan time.Time, limit int) ([]*models.Order, error) {
	var list []*models.Order
	err := r.db.WithContext(ctx).
		Where("payment_status = ? AND created_at <= ? AND status NOT IN ? AND (checkout_session_id IS NOT NULL OR payment_intent_id IS NOT NULL)",
			models.PaymentStatusPending, olderThan, models.TerminalOrderStatuses()).
		Order("created_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func (r *orderRepo) ListWithFulfillmentRef(ctx context.Context) ([]*models.Order, error) {
	var list []*models.Order
	err := r.db.WithContext(ctx).
		Where("fulfillment_ref IS NOT NULL").
		Order("created_at ASC").
		Find(&list).Error
	return list, err
}

func (r *orderRepo) ListChildren(ctx context.Context, parentID uuid.UUID) ([]*models.Order, error) {
	var list []*models.Order
	err := r.db.WithContext(ctx).
		Where("parent_order_id = ?", parentID).
		Order("order_number ASC").
		Preload("Items").
		Find(&list).Error
	return list, err
}

func (r *orderRepo) AppendNote(ctx context.Context, id uuid.UUID, note string) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", id).
		Update("notes", gorm.Expr("CASE WHEN notes = '' THEN ? ELSE notes || E'\n' || ? END", note, note)).Error
}

func (r *orderRepo) MarkSplit(ctx context.Context, parentID uuid.UUID, totalSplitOrders int) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", parentID).
		Updates(map[string]any{
			"is_split_order":     true,
			"total_split_orders": totalSplitOrders,
		}).Error
}

func (r *orderRepo) WithTx(ctx context.Context, fn func(txOrders OrderRepo, txItems OrderItemRepo) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&orderRepo{db: tx}, &orderItemRepo{db: tx})
	})
}
