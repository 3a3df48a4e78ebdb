package executor

import "errors"

// Ошибки executor'а.
var (
	// ErrTaskNotFound — задача не найдена.
	ErrTaskNotFound = errors.New("task not found")

	// ErrUnknownTaskType — нет handler'а для типа задачи.
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrTaskNotFailed — retry возможен только для FAILED задачи.
	ErrTaskNotFailed = errors.New("task is not in FAILED status")

	// ErrTaskNotAwaiting — задача не ждёт ручной сборки.
	ErrTaskNotAwaiting = errors.New("task is not awaiting a manual build")

	// ErrCheckFailed — проверка коллаборатора вернула отрицательный вердикт.
	ErrCheckFailed = errors.New("check failed")

	// ErrMissingReference — не найден результат предыдущей задачи (сьют, тикет).
	ErrMissingReference = errors.New("missing reference")
)
