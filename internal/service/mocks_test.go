package service_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"reconciliation-service/internal/models"
	"reconciliation-service/internal/repository"
	"reconciliation-service/internal/service"

	"github.com/google/uuid"
)

// Моки для зависимостей пайплайна.

// memStore — in-memory хранилище заказов с честной семантикой условных
// обновлений, чтобы проверять идемпотентность и гонки развёрток.
type memStore struct {
	mu      sync.Mutex
	orders  map[uuid.UUID]*models.Order
	items   map[uuid.UUID][]models.OrderItem
	logs    []models.RecoveryLog
	seq     int64
	created []uuid.UUID // порядок вставки
}

func newMemStore() *memStore {
	return &memStore{
		orders: make(map[uuid.UUID]*models.Order),
		items:  make(map[uuid.UUID][]models.OrderItem),
		seq:    100000,
	}
}

func (m *memStore) repo() *repository.Repository {
	return &repository.Repository{
		Orders:       &memOrderRepo{s: m},
		OrderItems:   &memItemRepo{s: m},
		RecoveryLogs: &memLogRepo{s: m},
	}
}

func (m *memStore) add(o *models.Order) *models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	if o.Status == "" {
		o.Status = models.OrderStatusPending
	}
	if o.PaymentStatus == "" {
		o.PaymentStatus = models.PaymentStatusPending
	}
	if o.FulfillmentMethod == "" {
		o.FulfillmentMethod = models.FulfillmentMethodZMA
	}
	if o.TotalSplitOrders == 0 {
		o.TotalSplitOrders = 1
	}
	m.items[o.ID] = append([]models.OrderItem(nil), o.Items...)
	stored := *o
	stored.Items = nil
	m.orders[o.ID] = &stored
	m.created = append(m.created, o.ID)
	return o
}

func (m *memStore) get(id uuid.UUID) *models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil
	}
	cp := *o
	cp.Items = append([]models.OrderItem(nil), m.items[id]...)
	return &cp
}

func (m *memStore) logsFor(id uuid.UUID) []models.RecoveryLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RecoveryLog
	for _, e := range m.logs {
		if e.OrderID == id {
			out = append(out, e)
		}
	}
	return out
}

type memOrderRepo struct{ s *memStore }

func (r *memOrderRepo) Create(ctx context.Context, o *models.Order) error {
	r.s.add(o)
	return nil
}

func (r *memOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.s.get(id), nil
}

func (r *memOrderRepo) GetByPaymentRef(ctx context.Context, ref string) (*models.Order, error) {
	r.s.mu.Lock()
	var found uuid.UUID
	ok := false
	for _, id := range r.s.created {
		o := r.s.orders[id]
		if (o.CheckoutSessionID != nil && *o.CheckoutSessionID == ref) ||
			(o.PaymentIntentID != nil && *o.PaymentIntentID == ref) {
			found, ok = id, true
			break
		}
	}
	r.s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return r.s.get(found), nil
}

func (r *memOrderRepo) NextOrderNumber(ctx context.Context) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.seq++
	return fmt.Sprintf("ORD-%d", r.s.seq), nil
}

func (r *memOrderRepo) UpdateStatusIf(ctx context.Context, id uuid.UUID, from []models.OrderStatus, to models.OrderStatus, extra map[string]any) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return false, nil
	}
	matched := false
	for _, f := range from {
		if o.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	o.Status = to
	applyExtra(o, extra)
	return true, nil
}

func (r *memOrderRepo) MarkPaymentSucceeded(ctx context.Context, id uuid.UUID, from []models.OrderStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok || o.PaymentStatus == models.PaymentStatusSucceeded {
		return false, nil
	}
	matched := false
	for _, f := range from {
		if o.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	o.PaymentStatus = models.PaymentStatusSucceeded
	o.Status = models.OrderStatusProcessing
	return true, nil
}

func (r *memOrderRepo) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*models.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var due []*models.Order
	for _, id := range r.s.created {
		o := r.s.orders[id]
		if o.Status == models.OrderStatusRetryPending && o.NextRetryAt != nil && !o.NextRetryAt.After(now) {
			cp := *o
			cp.Items = append([]models.OrderItem(nil), r.s.items[id]...)
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(*due[j].NextRetryAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *memOrderRepo) ListStuckPayments(ctx context.Context, olderThan time.Time, limit int) ([]*models.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Order
	for _, id := range r.s.created {
		o := r.s.orders[id]
		if o.PaymentStatus == models.PaymentStatusPending && !o.CreatedAt.After(olderThan) &&
			!service.IsTerminal(o.Status) &&
			(o.CheckoutSessionID != nil || o.PaymentIntentID != nil) {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memOrderRepo) ListWithFulfillmentRef(ctx context.Context) ([]*models.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Order
	for _, id := range r.s.created {
		o := r.s.orders[id]
		if o.FulfillmentRef != nil {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memOrderRepo) ListChildren(ctx context.Context, parentID uuid.UUID) ([]*models.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Order
	for _, id := range r.s.created {
		o := r.s.orders[id]
		if o.ParentOrderID != nil && *o.ParentOrderID == parentID {
			cp := *o
			cp.Items = append([]models.OrderItem(nil), r.s.items[id]...)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNumber < out[j].OrderNumber })
	return out, nil
}

func (r *memOrderRepo) AppendNote(ctx context.Context, id uuid.UUID, note string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil
	}
	if o.Notes == "" {
		o.Notes = note
	} else {
		o.Notes += "\n" + note
	}
	return nil
}

func (r *memOrderRepo) MarkSplit(ctx context.Context, parentID uuid.UUID, totalSplitOrders int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if o, ok := r.s.orders[parentID]; ok {
		o.IsSplitOrder = true
		o.TotalSplitOrders = totalSplitOrders
	}
	return nil
}

func (r *memOrderRepo) WithTx(ctx context.Context, fn func(txOrders repository.OrderRepo, txItems repository.OrderItemRepo) error) error {
	return fn(r, &memItemRepo{s: r.s})
}

func applyExtra(o *models.Order, extra map[string]any) {
	for k, v := range extra {
		switch k {
		case "retry_count":
			o.RetryCount = v.(int)
		case "next_retry_at":
			if v == nil {
				o.NextRetryAt = nil
			} else {
				t := v.(time.Time)
				o.NextRetryAt = &t
			}
		case "fulfillment_ref":
			s := v.(string)
			o.FulfillmentRef = &s
		case "fulfillment_method":
			o.FulfillmentMethod = v.(string)
		case "payment_status":
			o.PaymentStatus = v.(models.PaymentStatus)
		case "cancel_reason":
			s := v.(string)
			o.CancelReason = &s
		}
	}
}

type memItemRepo struct{ s *memStore }

func (r *memItemRepo) BulkCreate(ctx context.Context, items []models.OrderItem) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, it := range items {
		if it.ID == uuid.Nil {
			it.ID = uuid.New()
		}
		r.s.items[it.OrderID] = append(r.s.items[it.OrderID], it)
	}
	return nil
}

func (r *memItemRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]models.OrderItem(nil), r.s.items[orderID]...), nil
}

func (r *memItemRepo) SumByOrder(ctx context.Context, orderID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var sum int64
	for _, it := range r.s.items[orderID] {
		sum += it.LineTotalCents
	}
	return sum, nil
}

type memLogRepo struct{ s *memStore }

func (r *memLogRepo) Create(ctx context.Context, e *models.RecoveryLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now()
	r.s.logs = append(r.s.logs, *e)
	return nil
}

func (r *memLogRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.RecoveryLog, error) {
	return r.s.logsFor(orderID), nil
}

// MockGateway
type MockGateway struct {
	GetPaymentStatusFunc func(ctx context.Context, ref string) (service.GatewayStatus, error)
	CancelPaymentFunc    func(ctx context.Context, ref string) error
}

func (m *MockGateway) GetPaymentStatus(ctx context.Context, ref string) (service.GatewayStatus, error) {
	if m.GetPaymentStatusFunc != nil {
		return m.GetPaymentStatusFunc(ctx, ref)
	}
	return service.GatewayStatus{State: service.PaymentStatePending}, nil
}

func (m *MockGateway) CancelPayment(ctx context.Context, ref string) error {
	if m.CancelPaymentFunc != nil {
		return m.CancelPaymentFunc(ctx, ref)
	}
	return nil
}

// MockDispatcher
type MockDispatcher struct {
	SubmitFunc func(ctx context.Context, o *models.Order) (service.DispatchResult, error)
	CancelFunc func(ctx context.Context, externalRef string) error

	mu        sync.Mutex
	Submitted []uuid.UUID
	Cancelled []string
}

func (m *MockDispatcher) Submit(ctx context.Context, o *models.Order) (service.DispatchResult, error) {
	m.mu.Lock()
	m.Submitted = append(m.Submitted, o.ID)
	m.mu.Unlock()
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, o)
	}
	return service.DispatchResult{Success: true, ExternalRef: "zma-" + o.ID.String()[:8]}, nil
}

func (m *MockDispatcher) Cancel(ctx context.Context, externalRef string) error {
	m.mu.Lock()
	m.Cancelled = append(m.Cancelled, externalRef)
	m.mu.Unlock()
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, externalRef)
	}
	return nil
}

// MockTracker
type MockTracker struct {
	MarkExecutionFailedFunc func(ctx context.Context, executionID uuid.UUID, reason string) error

	mu     sync.Mutex
	Failed map[uuid.UUID]string
}

func (m *MockTracker) MarkExecutionFailed(ctx context.Context, executionID uuid.UUID, reason string) error {
	m.mu.Lock()
	if m.Failed == nil {
		m.Failed = make(map[uuid.UUID]string)
	}
	m.Failed[executionID] = reason
	m.mu.Unlock()
	if m.MarkExecutionFailedFunc != nil {
		return m.MarkExecutionFailedFunc(ctx, executionID, reason)
	}
	return nil
}

func strPtr(s string) *string { return &s }

func testConfig() service.Config {
	cfg := service.DefaultConfig()
	cfg.InterOrderDelay = 0
	cfg.PerOrderTimeout = 5 * time.Second
	return cfg
}
