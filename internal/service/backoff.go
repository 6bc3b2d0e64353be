package service

import "time"

// Фиксированное возрастающее расписание пауз между повторами диспатча.
var retryBackoff = []time.Duration{
	1 * time.Hour,
	4 * time.Hour,
	12 * time.Hour,
}

// Backoff возвращает паузу перед повтором с номером attempt (нумерация с 1).
// Значения вне расписания прижимаются к его краям, поэтому функция тотальна:
// Backoff(0) == Backoff(1) == 1h, Backoff(99) == 12h.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(retryBackoff) {
		attempt = len(retryBackoff)
	}
	return retryBackoff[attempt-1]
}
