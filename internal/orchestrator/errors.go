package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrReleaseNotFound — релиз или его CronJob не найден.
	ErrReleaseNotFound = errors.New("release not found")

	// ErrTaskNotFound — задача не найдена.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidStage — неизвестная стадия.
	ErrInvalidStage = errors.New("invalid stage")

	// ErrInvalidPolicy — неизвестная политика снятия паузы.
	ErrInvalidPolicy = errors.New("invalid pause policy")
)
