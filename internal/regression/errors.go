package regression

import "errors"

// Ошибки менеджера регрессии.
var (
	// ErrCycleNotFound — цикл не найден.
	ErrCycleNotFound = errors.New("regression cycle not found")

	// ErrCycleClosed — цикл уже DONE или ABANDONED.
	ErrCycleClosed = errors.New("regression cycle is closed")

	// ErrInvalidSchedule — расписание регрессии некорректно.
	ErrInvalidSchedule = errors.New("invalid regression schedule")
)
