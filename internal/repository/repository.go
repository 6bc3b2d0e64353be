package repository

import "gorm.io/gorm"

type Repository struct {
	Orders       OrderRepo
	OrderItems   OrderItemRepo
	RecoveryLogs RecoveryLogRepo
	Executions   ExecutionRepo
}

func New(db *gorm.DB) *Repository {
	return &Repository{
		Orders:       NewOrderRepo(db),
		OrderItems:   NewOrderItemRepo(db),
		RecoveryLogs: NewRecoveryLogRepo(db),
		Executions:   NewExecutionRepo(db),
	}
}
