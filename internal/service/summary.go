package service

import (
	"time"

	"github.com/google/uuid"
)

// Discrepancy — расхождение данных, требующее ручного разбора.
// Никогда не исправляется автоматически.
type Discrepancy struct {
	OrderID uuid.UUID `json:"order_id"`
	Kind    string    `json:"kind"`
	Detail  string    `json:"detail"`
}

type ItemError struct {
	OrderID uuid.UUID `json:"order_id"`
	Error   string    `json:"error"`
}

// Summary — структурированный итог одного прогона операции.
type Summary struct {
	Operation     string        `json:"operation"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	Processed     int           `json:"processed"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	Skipped       int           `json:"skipped"`
	Corrected     int           `json:"corrected"`
	Discrepancies []Discrepancy `json:"discrepancies,omitempty"`
	Errors        []ItemError   `json:"errors,omitempty"`
}
