package repository

import (
	"context"

	"reconciliation-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RecoveryLogRepo — журнал append-only: только создание и чтение.
type RecoveryLogRepo interface {
	Create(ctx context.Context, e *models.RecoveryLog) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.RecoveryLog, error)
}

type recoveryLogRepo struct{ db *gorm.DB }

func NewRecoveryLogRepo(db *gorm.DB) RecoveryLogRepo { return &recoveryLogRepo{db: db} }

func (r *recoveryLogRepo) Create(ctx context.Context, e *models.RecoveryLog) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *recoveryLogRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.RecoveryLog, error) {
	var list []models.RecoveryLog
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&list).Error
	return list, err
}
