package integrations

import "errors"

// Ошибки коллабораторов.
var (
	// ErrNotConfigured — интеграция не настроена для релиза или платформы.
	// Это ошибка конфигурации: задача остаётся PENDING до исправления.
	ErrNotConfigured = errors.New("integration not configured")

	// ErrRejected — коллаборатор окончательно отклонил запрос (например, стор отклонил сборку).
	ErrRejected = errors.New("rejected by collaborator")

	// ErrCollaborator — временная ошибка коллаборатора (сеть, 5xx).
	ErrCollaborator = errors.New("collaborator error")
)
