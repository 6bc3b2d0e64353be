package service

import (
	"context"
	"time"
)

// Config — настройки пайплайна. Значения по умолчанию соответствуют
// наблюдаемым в проде константам и переопределяются через окружение.
type Config struct {
	MaxRetries           int
	RetryBatchSize       int
	ReconcileBatchSize   int
	StuckPaymentAge      time.Duration
	InterOrderDelay      time.Duration
	PerOrderTimeout      time.Duration
	AmountToleranceCents int64
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:           3,
		RetryBatchSize:       10,
		ReconcileBatchSize:   25,
		StuckPaymentAge:      30 * time.Minute,
		InterOrderDelay:      500 * time.Millisecond,
		PerOrderTimeout:      30 * time.Second,
		AmountToleranceCents: 1,
	}
}

// sleepCtx — пауза с учётом отмены контекста, без busy-wait.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
