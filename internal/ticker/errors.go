package ticker

import "errors"

var (
	// ErrInvalidSchedule — расписание тиков не разбирается.
	ErrInvalidSchedule = errors.New("invalid tick schedule")

	// ErrNoTarget — не задан ни publisher, ни runner.
	ErrNoTarget = errors.New("ticker needs a publisher or a runner")
)
