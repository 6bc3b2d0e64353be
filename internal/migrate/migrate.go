package migrate

import (
	"context"

	"reconciliation-service/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type MigrateOptions struct {
	CreateExtensions       bool // pgcrypto
	CreateChecks           bool // CHECK-constraint для целостности
	CreateIndexes          bool // индексы и UNIQUE
	CreateSequence         bool // последовательность для номеров заказов
	CreateUpdatedAtTrigger bool // триггер обновления updated_at
}

func DefaultMigrateOptions() MigrateOptions {
	return MigrateOptions{
		CreateExtensions:       true,
		CreateChecks:           true,
		CreateIndexes:          true,
		CreateSequence:         true,
		CreateUpdatedAtTrigger: true,
	}
}

func MigrateReconciliationDB(ctx context.Context, db *gorm.DB, log *zap.Logger, opt MigrateOptions) error {
	log.Info("Начало миграции базы данных заказов")

	if opt.CreateExtensions {
		if err := db.WithContext(ctx).Exec(`CREATE EXTENSION IF NOT EXISTS pgcrypto`).Error; err != nil {
			log.Error("Не удалось включить расширение pgcrypto", zap.Error(err))
			return err
		}
	}

	log.Info("Создание таблиц orders, order_items, recovery_logs и auto_gift_executions")
	if err := db.WithContext(ctx).AutoMigrate(&models.Order{}, &models.OrderItem{}, &models.RecoveryLog{}, &models.AutoGiftExecution{}); err != nil {
		log.Error("Не удалось создать таблицы", zap.Error(err))
		return err
	}

	if opt.CreateSequence {
		if err := db.WithContext(ctx).Exec(`CREATE SEQUENCE IF NOT EXISTS order_number_seq START 100001`).Error; err != nil {
			log.Error("Не удалось создать последовательность order_number_seq", zap.Error(err))
			return err
		}
	}

	if opt.CreateUpdatedAtTrigger {
		if err := db.WithContext(ctx).Exec(`
CREATE OR REPLACE FUNCTION set_updated_at() RETURNS trigger AS $$
BEGIN NEW.updated_at = now(); RETURN NEW; END; $$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_orders_updated ON orders;
CREATE TRIGGER trg_orders_updated
BEFORE UPDATE ON orders
FOR EACH ROW EXECUTE FUNCTION set_updated_at();
`).Error; err != nil {
			log.Error("Не удалось создать триггер updated_at", zap.Error(err))
			return err
		}
	}

	if opt.CreateChecks {
		log.Info("Создание CHECK-ограничений")

		if err := db.WithContext(ctx).Exec(`
ALTER TABLE orders
  DROP CONSTRAINT IF EXISTS chk_orders_status_allowed;
ALTER TABLE orders
  ADD CONSTRAINT chk_orders_status_allowed
  CHECK (status IN (
    'ORDER_STATUS_PENDING','ORDER_STATUS_PROCESSING','ORDER_STATUS_RETRY_PENDING',
    'ORDER_STATUS_PARTIALLY_PROCESSED','ORDER_STATUS_COMPLETED',
    'ORDER_STATUS_FAILED','ORDER_STATUS_CANCELLED'));
`).Error; err != nil {
			log.Error("Не удалось создать CHECK для статусов", zap.Error(err))
			return err
		}

		if err := db.WithContext(ctx).Exec(`
ALTER TABLE orders
  DROP CONSTRAINT IF EXISTS chk_orders_payment_status_allowed;
ALTER TABLE orders
  ADD CONSTRAINT chk_orders_payment_status_allowed
  CHECK (payment_status IN (
    'PAYMENT_STATUS_PENDING','PAYMENT_STATUS_SUCCEEDED','PAYMENT_STATUS_FAILED'));
`).Error; err != nil {
			log.Error("Не удалось создать CHECK для payment_status", zap.Error(err))
			return err
		}

		if err := db.WithContext(ctx).Exec(`
ALTER TABLE orders
  DROP CONSTRAINT IF EXISTS chk_orders_amounts_non_negative;
ALTER TABLE orders
  ADD CONSTRAINT chk_orders_amounts_non_negative
  CHECK (subtotal_cents >= 0 AND shipping_cents >= 0 AND tax_cents >= 0
     AND gifting_fee_cents >= 0 AND total_cents >= 0);
`).Error; err != nil {
			log.Error("Не удалось создать CHECK для денежных полей orders", zap.Error(err))
			return err
		}

		if err := db.WithContext(ctx).Exec(`
ALTER TABLE orders
  DROP CONSTRAINT IF EXISTS chk_orders_retry_count;
ALTER TABLE orders
  ADD CONSTRAINT chk_orders_retry_count
  CHECK (retry_count >= 0);
`).Error; err != nil {
			log.Error("Не удалось создать CHECK для retry_count", zap.Error(err))
			return err
		}

		if err := db.WithContext(ctx).Exec(`
ALTER TABLE orders
  DROP CONSTRAINT IF EXISTS chk_orders_total_split_orders;
ALTER TABLE orders
  ADD CONSTRAINT chk_orders_total_split_orders
  CHECK (total_split_orders >= 1);
`).Error; err != nil {
			log.Error("Не удалось создать CHECK для total_split_orders", zap.Error(err))
			return err
		}

		if err := db.WithContext(ctx).Exec(`
ALTER TABLE order_items
  DROP CONSTRAINT IF EXISTS chk_order_items_quantity_gt_zero;
ALTER TABLE order_items
  ADD CONSTRAINT chk_order_items_quantity_gt_zero
  CHECK (quantity > 0);
`).Error; err != nil {
			log.Error("Не удалось создать CHECK для order_items.quantity", zap.Error(err))
			return err
		}

		if err := db.WithContext(ctx).Exec(`
ALTER TABLE order_items
  DROP CONSTRAINT IF EXISTS chk_order_items_prices_non_negative;
ALTER TABLE order_items
  ADD CONSTRAINT chk_order_items_prices_non_negative
  CHECK (unit_price_cents >= 0 AND line_total_cents >= 0);
`).Error; err != nil {
			log.Error("Не удалось создать CHECK для цен в order_items", zap.Error(err))
			return err
		}

		log.Info("CHECK-ограничения успешно созданы")
	}

	if opt.CreateIndexes {
		log.Info("Создание индексов")

		// Выборка ретраев: статус + срок следующей попытки
		if err := db.WithContext(ctx).Exec(`
CREATE INDEX IF NOT EXISTS ix_orders_status_next_retry
ON orders (status, next_retry_at);
`).Error; err != nil {
			log.Error("Не удалось создать индекс ix_orders_status_next_retry", zap.Error(err))
			return err
		}

		// Группировка дублей по внешней ссылке фулфилмента
		if err := db.WithContext(ctx).Exec(`
CREATE INDEX IF NOT EXISTS ix_orders_fulfillment_ref
ON orders (fulfillment_ref) WHERE fulfillment_ref IS NOT NULL;
`).Error; err != nil {
			log.Error("Не удалось создать индекс ix_orders_fulfillment_ref", zap.Error(err))
			return err
		}

		// Зависшие платежи: payment_status + дата создания
		if err := db.WithContext(ctx).Exec(`
CREATE INDEX IF NOT EXISTS ix_orders_payment_status_created
ON orders (payment_status, created_at);
`).Error; err != nil {
			log.Error("Не удалось создать индекс ix_orders_payment_status_created", zap.Error(err))
			return err
		}

		// FK дочерних заказов
		if err := db.WithContext(ctx).Exec(`
ALTER TABLE orders
  DROP CONSTRAINT IF EXISTS fk_orders_parent,
  ADD CONSTRAINT fk_orders_parent
    FOREIGN KEY (parent_order_id) REFERENCES orders(id) ON DELETE SET NULL;
`).Error; err != nil {
			log.Error("Не удалось создать FK orders.parent_order_id -> orders.id", zap.Error(err))
			return err
		}

		log.Info("Индексы успешно созданы")
	}

	log.Info("Миграция базы данных заказов завершена")
	return nil
}
