package repository

import (
	"context"
	"errors"

	"reconciliation-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ExecutionRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.AutoGiftExecution, error)
	// MarkExecutionFailed переводит исполнение авто-правила в failed,
	// если оно ещё не завершено, и сохраняет причину.
	MarkExecutionFailed(ctx context.Context, id uuid.UUID, reason string) error
}

type executionRepo struct{ db *gorm.DB }

func NewExecutionRepo(db *gorm.DB) ExecutionRepo { return &executionRepo{db: db} }

func (r *executionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.AutoGiftExecution, error) {
	var ex models.AutoGiftExecution
	err := r.db.WithContext(ctx).First(&ex, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &ex, err
}

func (r *executionRepo) MarkExecutionFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).Model(&models.AutoGiftExecution{}).
		Where("id = ? AND status NOT IN ?", id, []models.ExecutionStatus{
			models.ExecutionStatusCompleted,
			models.ExecutionStatusFailed,
		}).
		Updates(map[string]any{
			"status":        models.ExecutionStatusFailed,
			"error_message": reason,
		}).Error
}
