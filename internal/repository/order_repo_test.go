package repository_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"reconciliation-service/internal/migrate"
	"reconciliation-service/internal/models"
	"reconciliation-service/internal/repository"
	"reconciliation-service/pkg/testutil"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Интеграционные тесты: поднимают postgres через testcontainers,
// запускаются только без -short.
func setupRepo(t *testing.T) (*repository.Repository, *gorm.DB) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	db := testutil.SetupTestPostgres(t)
	if err := migrate.MigrateReconciliationDB(context.Background(), db, zap.NewNop(), migrate.DefaultMigrateOptions()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repository.New(db), db
}

func seedOrder(t *testing.T, repo *repository.Repository, o *models.Order) *models.Order {
	t.Helper()
	if o.OrderNumber == "" {
		num, err := repo.Orders.NextOrderNumber(context.Background())
		if err != nil {
			t.Fatalf("NextOrderNumber: %v", err)
		}
		o.OrderNumber = num
	}
	if err := repo.Orders.Create(context.Background(), o); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func TestOrderRepo_UpdateStatusIf(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	ord := seedOrder(t, repo, &models.Order{Status: models.OrderStatusRetryPending})

	applied, err := repo.Orders.UpdateStatusIf(ctx, ord.ID,
		[]models.OrderStatus{models.OrderStatusRetryPending},
		models.OrderStatusProcessing,
		map[string]any{"retry_count": 1})
	if err != nil {
		t.Fatalf("UpdateStatusIf: %v", err)
	}
	if !applied {
		t.Fatal("transition from matching status must be applied")
	}

	// Повтор того же перехода — статус уже не retry_pending.
	applied, err = repo.Orders.UpdateStatusIf(ctx, ord.ID,
		[]models.OrderStatus{models.OrderStatusRetryPending},
		models.OrderStatusProcessing, nil)
	if err != nil {
		t.Fatalf("UpdateStatusIf repeat: %v", err)
	}
	if applied {
		t.Fatal("transition from non-matching status must be a no-op")
	}

	got, err := repo.Orders.GetByID(ctx, ord.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != models.OrderStatusProcessing || got.RetryCount != 1 {
		t.Fatalf("order = %s/%d, want processing/1", got.Status, got.RetryCount)
	}
}

func recoverableFrom() []models.OrderStatus {
	return []models.OrderStatus{
		models.OrderStatusPending,
		models.OrderStatusProcessing,
		models.OrderStatusRetryPending,
	}
}

func TestOrderRepo_MarkPaymentSucceededIsIdempotent(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	ord := seedOrder(t, repo, &models.Order{
		Status:        models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusPending,
	})

	applied, err := repo.Orders.MarkPaymentSucceeded(ctx, ord.ID, recoverableFrom())
	if err != nil {
		t.Fatalf("MarkPaymentSucceeded: %v", err)
	}
	if !applied {
		t.Fatal("first mark must be applied")
	}

	applied, err = repo.Orders.MarkPaymentSucceeded(ctx, ord.ID, recoverableFrom())
	if err != nil {
		t.Fatalf("MarkPaymentSucceeded repeat: %v", err)
	}
	if applied {
		t.Fatal("second mark must be a no-op")
	}

	got, _ := repo.Orders.GetByID(ctx, ord.ID)
	if got.PaymentStatus != models.PaymentStatusSucceeded || got.Status != models.OrderStatusProcessing {
		t.Fatalf("order = %s/%s, want succeeded/processing", got.PaymentStatus, got.Status)
	}
}

func TestOrderRepo_MarkPaymentSucceededLeavesTerminalOrders(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	for _, status := range models.TerminalOrderStatuses() {
		ord := seedOrder(t, repo, &models.Order{
			Status:        status,
			PaymentStatus: models.PaymentStatusPending,
		})

		applied, err := repo.Orders.MarkPaymentSucceeded(ctx, ord.ID, recoverableFrom())
		if err != nil {
			t.Fatalf("%s: MarkPaymentSucceeded: %v", status, err)
		}
		if applied {
			t.Fatalf("%s: terminal order must not be marked", status)
		}

		got, _ := repo.Orders.GetByID(ctx, ord.ID)
		if got.Status != status || got.PaymentStatus != models.PaymentStatusPending {
			t.Fatalf("%s: order resurrected: %s/%s", status, got.Status, got.PaymentStatus)
		}
	}
}

func TestOrderRepo_ListStuckPaymentsExcludesTerminal(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	old := time.Now().Add(-2 * time.Hour)

	cs := "cs_stuck_live"
	live := seedOrder(t, repo, &models.Order{
		Status:            models.OrderStatusPending,
		PaymentStatus:     models.PaymentStatusPending,
		CheckoutSessionID: &cs,
		CreatedAt:         old,
	})
	for _, status := range models.TerminalOrderStatuses() {
		ref := "cs_stuck_" + string(status)
		seedOrder(t, repo, &models.Order{
			Status:            status,
			PaymentStatus:     models.PaymentStatusPending,
			CheckoutSessionID: &ref,
			CreatedAt:         old,
		})
	}

	list, err := repo.Orders.ListStuckPayments(ctx, time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ListStuckPayments: %v", err)
	}
	if len(list) != 1 || list[0].ID != live.ID {
		t.Fatalf("stuck list = %d entries, want only the live order", len(list))
	}
}

func TestOrderRepo_GetByPaymentRef(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	cs := "cs_test_abc"
	pi := "pi_test_def"
	bySession := seedOrder(t, repo, &models.Order{CheckoutSessionID: &cs})
	byIntent := seedOrder(t, repo, &models.Order{PaymentIntentID: &pi})

	got, err := repo.Orders.GetByPaymentRef(ctx, cs)
	if err != nil || got == nil || got.ID != bySession.ID {
		t.Fatalf("lookup by session = %v, %v", got, err)
	}
	got, err = repo.Orders.GetByPaymentRef(ctx, pi)
	if err != nil || got == nil || got.ID != byIntent.ID {
		t.Fatalf("lookup by intent = %v, %v", got, err)
	}
	got, err = repo.Orders.GetByPaymentRef(ctx, "cs_missing")
	if err != nil || got != nil {
		t.Fatalf("missing ref must return nil, got %v, %v", got, err)
	}
}

func TestOrderRepo_ListDueRetriesOrderAndLimit(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	now := time.Now()

	var due []*models.Order
	for i := 3; i >= 1; i-- {
		at := now.Add(-time.Duration(i) * time.Hour)
		due = append(due, seedOrder(t, repo, &models.Order{
			Status:      models.OrderStatusRetryPending,
			NextRetryAt: &at,
		}))
	}
	future := now.Add(time.Hour)
	seedOrder(t, repo, &models.Order{Status: models.OrderStatusRetryPending, NextRetryAt: &future})
	past := now.Add(-time.Hour)
	seedOrder(t, repo, &models.Order{Status: models.OrderStatusProcessing, NextRetryAt: &past})

	list, err := repo.Orders.ListDueRetries(ctx, now, 2)
	if err != nil {
		t.Fatalf("ListDueRetries: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want limit 2", len(list))
	}
	// Самые старые — первыми: -3h, затем -2h.
	if list[0].ID != due[0].ID || list[1].ID != due[1].ID {
		t.Fatalf("order of due retries: got %s, %s", list[0].ID, list[1].ID)
	}
}

func TestOrderRepo_AppendNote(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	ord := seedOrder(t, repo, &models.Order{})

	if err := repo.Orders.AppendNote(ctx, ord.ID, "first"); err != nil {
		t.Fatalf("AppendNote: %v", err)
	}
	if err := repo.Orders.AppendNote(ctx, ord.ID, "second"); err != nil {
		t.Fatalf("AppendNote: %v", err)
	}

	got, _ := repo.Orders.GetByID(ctx, ord.ID)
	if got.Notes != "first\nsecond" {
		t.Fatalf("notes = %q, want lines appended", got.Notes)
	}
}

func TestOrderRepo_NextOrderNumber(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	a, err := repo.Orders.NextOrderNumber(ctx)
	if err != nil {
		t.Fatalf("NextOrderNumber: %v", err)
	}
	b, err := repo.Orders.NextOrderNumber(ctx)
	if err != nil {
		t.Fatalf("NextOrderNumber: %v", err)
	}
	if !strings.HasPrefix(a, "ORD-") || a == b {
		t.Fatalf("numbers = %s, %s; want distinct ORD-prefixed", a, b)
	}
}

func TestOrderRepo_WithTxRollsBackOnError(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	parent := seedOrder(t, repo, &models.Order{})

	wantErr := errors.New("split aborted")
	err := repo.Orders.WithTx(ctx, func(txOrders repository.OrderRepo, txItems repository.OrderItemRepo) error {
		child := &models.Order{
			OrderNumber:   parent.OrderNumber + "-1",
			ParentOrderID: &parent.ID,
		}
		if err := txOrders.Create(ctx, child); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("WithTx err = %v, want %v", err, wantErr)
	}

	children, err := repo.Orders.ListChildren(ctx, parent.ID)
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if len(children) != 0 {
		t.Fatalf("rolled-back child persisted: %d", len(children))
	}
}

func TestExecutionRepo_MarkExecutionFailed(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	ex := &models.AutoGiftExecution{RuleID: uuid.New(), Status: models.ExecutionStatusProcessing}
	if err := db.WithContext(ctx).Create(ex).Error; err != nil {
		t.Fatalf("seed execution: %v", err)
	}

	if err := repo.Executions.MarkExecutionFailed(ctx, ex.ID, "order failed after 3 attempts"); err != nil {
		t.Fatalf("MarkExecutionFailed: %v", err)
	}
	got, err := repo.Executions.GetByID(ctx, ex.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != models.ExecutionStatusFailed || got.ErrorMessage == nil || *got.ErrorMessage == "" {
		t.Fatalf("execution = %s/%v, want failed with reason", got.Status, got.ErrorMessage)
	}

	// Завершённое исполнение не перезаписывается.
	done := &models.AutoGiftExecution{RuleID: uuid.New(), Status: models.ExecutionStatusCompleted}
	if err := db.WithContext(ctx).Create(done).Error; err != nil {
		t.Fatalf("seed execution: %v", err)
	}
	if err := repo.Executions.MarkExecutionFailed(ctx, done.ID, "late failure"); err != nil {
		t.Fatalf("MarkExecutionFailed: %v", err)
	}
	got, _ = repo.Executions.GetByID(ctx, done.ID)
	if got.Status != models.ExecutionStatusCompleted {
		t.Fatalf("completed execution overwritten: %s", got.Status)
	}
}
