package domain

import (
	"errors"
	"strings"
)

// Общие ошибки домена и хранилищ.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует.
	ErrAlreadyExists = errors.New("already exists")

	// ErrVersionConflict — CronJob изменён параллельно (optimistic locking).
	ErrVersionConflict = errors.New("version conflict")

	// ErrConflict — операция невозможна в текущем состоянии.
	ErrConflict = errors.New("conflict")

	// ErrInvalidArgument — некорректные входные данные.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ConflictError — структурированный конфликт.
// Состояние не меняется, вызывающий выбирает один из Options и повторяет запрос.
type ConflictError struct {
	Reason  string   `json:"reason"`
	Options []string `json:"options,omitempty"`
}

func (e *ConflictError) Error() string {
	if len(e.Options) == 0 {
		return "conflict: " + e.Reason
	}
	return "conflict: " + e.Reason + " (options: " + strings.Join(e.Options, ", ") + ")"
}

// Is позволяет проверять ConflictError через errors.Is(err, ErrConflict).
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Conflict создаёт ConflictError без вариантов разрешения.
func Conflict(reason string) error {
	return &ConflictError{Reason: reason}
}
