package service

import (
	"context"
	"encoding/json"

	"reconciliation-service/internal/models"
	"reconciliation-service/internal/repository"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// appendAudit пишет запись в журнал восстановления. Для коррекций и
// терминальных провалов вызывающий обязан проверять ошибку: действие
// не считается завершённым, пока запись не легла в журнал.
func appendAudit(ctx context.Context, logs repository.RecoveryLogRepo, orderID uuid.UUID, action, status, errMsg string, meta map[string]any) error {
	entry := &models.RecoveryLog{
		OrderID: orderID,
		Action:  action,
		Status:  status,
	}
	if errMsg != "" {
		entry.Error = &errMsg
	}
	if len(meta) > 0 {
		raw, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		entry.Meta = datatypes.JSON(raw)
	}
	return logs.Create(ctx, entry)
}
