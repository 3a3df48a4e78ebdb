package repo

import "github.com/shaiso/Shipyard/internal/domain"

// Ошибки репозиториев совпадают с доменными, чтобы вызывающий код
// не зависел от конкретного хранилища.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = domain.ErrNotFound

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = domain.ErrAlreadyExists

	// ErrVersionConflict — запись изменена параллельно.
	ErrVersionConflict = domain.ErrVersionConflict
)
