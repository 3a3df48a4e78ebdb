package distribution

import "errors"

// Ошибки движка дистрибуции.
var (
	// ErrDistributionNotFound — дистрибуция не найдена.
	ErrDistributionNotFound = errors.New("distribution not found")

	// ErrSubmissionNotFound — submission не найдена или принадлежит другой дистрибуции.
	ErrSubmissionNotFound = errors.New("submission not found")

	// ErrStoreNotConfigured — стор не настроен.
	ErrStoreNotConfigured = errors.New("store is not configured")
)
