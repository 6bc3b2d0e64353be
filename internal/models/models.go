package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Статус заказа — строковый тип, допустимые значения закреплены CHECK-ограничением
type OrderStatus string

const (
	OrderStatusPending            OrderStatus = "ORDER_STATUS_PENDING"
	OrderStatusProcessing         OrderStatus = "ORDER_STATUS_PROCESSING"
	OrderStatusRetryPending       OrderStatus = "ORDER_STATUS_RETRY_PENDING"
	OrderStatusPartiallyProcessed OrderStatus = "ORDER_STATUS_PARTIALLY_PROCESSED"
	OrderStatusCompleted          OrderStatus = "ORDER_STATUS_COMPLETED"
	OrderStatusFailed             OrderStatus = "ORDER_STATUS_FAILED"
	OrderStatusCancelled          OrderStatus = "ORDER_STATUS_CANCELLED"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PAYMENT_STATUS_PENDING"
	PaymentStatusSucceeded PaymentStatus = "PAYMENT_STATUS_SUCCEEDED"
	PaymentStatusFailed    PaymentStatus = "PAYMENT_STATUS_FAILED"
)

// TerminalOrderStatuses — статусы без исходящих переходов. Заказ в таком
// статусе не участвует ни в одной развёртке и не может быть изменён.
func TerminalOrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusCompleted,
		OrderStatusFailed,
		OrderStatusCancelled,
	}
}

// FulfillmentMethodZMA — единственный поддерживаемый метод диспатча.
// Старые значения ("zinc_api", "manual") нормализуются перед повторной отправкой.
const FulfillmentMethodZMA = "zma"

type Order struct {
	ID          uuid.UUID   `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber string      `gorm:"type:text;not null;uniqueIndex"`
	Status      OrderStatus `gorm:"type:text;not null;default:'ORDER_STATUS_PENDING';index"`

	PaymentStatus     PaymentStatus `gorm:"type:text;not null;default:'PAYMENT_STATUS_PENDING';index"`
	CheckoutSessionID *string       `gorm:"type:text;index"`
	PaymentIntentID   *string       `gorm:"type:text;index"`
	FulfillmentRef    *string       `gorm:"type:text;index"`
	FulfillmentMethod string        `gorm:"type:text;not null;default:'zma'"`

	SubtotalCents   int64  `gorm:"not null;default:0"`
	ShippingCents   int64  `gorm:"not null;default:0"`
	TaxCents        int64  `gorm:"not null;default:0"`
	GiftingFeeCents int64  `gorm:"not null;default:0"`
	TotalCents      int64  `gorm:"not null;default:0"`
	CurrencyCode    string `gorm:"type:char(3);not null;default:'USD'"`

	RetryCount  int        `gorm:"not null;default:0"`
	NextRetryAt *time.Time `gorm:"index"`

	ParentOrderID    *uuid.UUID     `gorm:"type:uuid;index"`
	DeliveryGroupID  *string        `gorm:"type:text"`
	DeliveryGroups   datatypes.JSON `gorm:"type:jsonb"` // метаданные корзины: группы доставки
	IsSplitOrder     bool           `gorm:"not null;default:false"`
	TotalSplitOrders int            `gorm:"not null;default:1"`

	AutoExecutionID *uuid.UUID `gorm:"type:uuid"`

	Notes        string  `gorm:"type:text;not null;default:''"`
	CancelReason *string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:now();index"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`

	Items []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

func (Order) TableName() string { return "orders" }

type OrderItem struct {
	ID             uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID `gorm:"type:uuid;not null;index"`
	ProductID      uuid.UUID `gorm:"type:uuid;not null"`
	Quantity       uint32    `gorm:"type:int;not null"` // CHECK добавим в миграции
	UnitPriceCents int64     `gorm:"not null"`
	LineTotalCents int64     `gorm:"not null"`

	RecipientName   *string `gorm:"type:text"`
	DeliveryGroupID *string `gorm:"type:text;index"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
}

func (OrderItem) TableName() string { return "order_items" }

// RecoveryLog — append-only журнал действий сверки и восстановления.
// Записи никогда не изменяются и не удаляются.
type RecoveryLog struct {
	ID      uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID uuid.UUID      `gorm:"type:uuid;not null;index"`
	Action  string         `gorm:"type:text;not null"`
	Status  string         `gorm:"type:text;not null"`
	Error   *string        `gorm:"type:text"`
	Meta    datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"not null;default:now();index"`
}

func (RecoveryLog) TableName() string { return "recovery_logs" }

type ExecutionStatus string

const (
	ExecutionStatusPending    ExecutionStatus = "EXECUTION_STATUS_PENDING"
	ExecutionStatusProcessing ExecutionStatus = "EXECUTION_STATUS_PROCESSING"
	ExecutionStatusCompleted  ExecutionStatus = "EXECUTION_STATUS_COMPLETED"
	ExecutionStatusFailed     ExecutionStatus = "EXECUTION_STATUS_FAILED"
)

// AutoGiftExecution — запуск авто-правила дарения, породивший заказ.
// При терминальном провале заказа исполнение помечается failed с
// человекочитаемой причиной.
type AutoGiftExecution struct {
	ID           uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	RuleID       uuid.UUID       `gorm:"type:uuid;not null;index"`
	Status       ExecutionStatus `gorm:"type:text;not null;default:'EXECUTION_STATUS_PENDING';index"`
	ErrorMessage *string         `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

func (AutoGiftExecution) TableName() string { return "auto_gift_executions" }
