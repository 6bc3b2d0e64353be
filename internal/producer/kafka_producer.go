package producer

import (
	"context"
	"encoding/json"
	"time"

	"reconciliation-service/internal/service"

	"github.com/segmentio/kafka-go"
)

// OrderEventProducer публикует события пайплайна сверки в kafka.
// Реализует service.EventBus; nil-шина на стороне сервиса отключает публикацию.
type OrderEventProducer struct {
	writer *kafka.Writer
}

func NewOrderEventProducer(brokers []string, topic string) *OrderEventProducer {
	return &OrderEventProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func (p *OrderEventProducer) publish(ctx context.Context, key, eventType string, payload any) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	value, err := json.Marshal(envelope{Type: eventType, Payload: payload})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
	})
}

func (p *OrderEventProducer) PublishPaymentRecovered(ctx context.Context, e service.PaymentRecoveredEvent) error {
	return p.publish(ctx, e.OrderID.String(), "payment.recovered", e)
}

func (p *OrderEventProducer) PublishDispatchFailed(ctx context.Context, e service.DispatchFailedEvent) error {
	return p.publish(ctx, e.OrderID.String(), "dispatch.failed", e)
}

func (p *OrderEventProducer) PublishOrderSplit(ctx context.Context, e service.OrderSplitEvent) error {
	return p.publish(ctx, e.ParentOrderID.String(), "order.split", e)
}

func (p *OrderEventProducer) PublishDuplicateCancelled(ctx context.Context, e service.DuplicateCancelledEvent) error {
	return p.publish(ctx, e.OrderID.String(), "duplicate.cancelled", e)
}

func (p *OrderEventProducer) Close() error {
	return p.writer.Close()
}
