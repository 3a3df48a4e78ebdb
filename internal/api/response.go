package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shaiso/Shipyard/internal/distribution"
	"github.com/shaiso/Shipyard/internal/domain"
	"github.com/shaiso/Shipyard/internal/executor"
	"github.com/shaiso/Shipyard/internal/integrations"
	"github.com/shaiso/Shipyard/internal/lock"
	"github.com/shaiso/Shipyard/internal/orchestrator"
	"github.com/shaiso/Shipyard/internal/regression"
)

// ErrorCode — код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest     ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodeConflict       ErrorCode = "CONFLICT"
	ErrCodeBusy           ErrorCode = "RELEASE_BUSY"
	ErrCodeNotConfigured  ErrorCode = "NOT_CONFIGURED"
	ErrCodeUpstream       ErrorCode = "UPSTREAM_ERROR"
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodeMethodNotAllow ErrorCode = "METHOD_NOT_ALLOWED"
)

// ErrorResponse — структура ответа с ошибкой.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — детали ошибки.
// Options заполняется для конфликтов, которые вызывающий разрешает повторным запросом.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Options []string  `json:"options,omitempty"`
}

// DataResponse — структура успешного ответа.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse — структура ответа со списком.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total,omitempty"`
}

// JSON отправляет JSON ответ.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Success отправляет успешный ответ с данными.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

// Created отправляет ответ о создании ресурса.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, DataResponse{Data: data})
}

// Accepted — запрос принят к асинхронной обработке.
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, DataResponse{Data: data})
}

// List отправляет ответ со списком.
func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error отправляет ответ с ошибкой.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// BadRequest отправляет ошибку 400.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// NotFound отправляет ошибку 404.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// Conflict отправляет ошибку 409 с вариантами разрешения.
func Conflict(w http.ResponseWriter, message string, options ...string) {
	JSON(w, http.StatusConflict, ErrorResponse{
		Error: ErrorDetail{
			Code:    ErrCodeConflict,
			Message: message,
			Options: options,
		},
	})
}

// InternalError отправляет ошибку 500.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// MethodNotAllowed отправляет ошибку 405.
func MethodNotAllowed(w http.ResponseWriter) {
	Error(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
}

// HandleError преобразует ошибку движка в HTTP ответ.
// Возвращает false, если err == nil.
func HandleError(w http.ResponseWriter, logger *slog.Logger, err error) bool {
	if err == nil {
		return false
	}

	var conflict *domain.ConflictError
	switch {
	case errors.As(err, &conflict):
		Conflict(w, conflict.Reason, conflict.Options...)

	case errors.Is(err, orchestrator.ErrReleaseNotFound),
		errors.Is(err, orchestrator.ErrTaskNotFound),
		errors.Is(err, executor.ErrTaskNotFound),
		errors.Is(err, regression.ErrCycleNotFound),
		errors.Is(err, distribution.ErrDistributionNotFound),
		errors.Is(err, distribution.ErrSubmissionNotFound),
		errors.Is(err, domain.ErrNotFound):
		NotFound(w, err.Error())

	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, orchestrator.ErrInvalidStage),
		errors.Is(err, regression.ErrInvalidSchedule):
		BadRequest(w, err.Error())

	case errors.Is(err, domain.ErrVersionConflict):
		Conflict(w, "release was modified concurrently, retry the request")

	case errors.Is(err, lock.ErrNotAcquired):
		Error(w, http.StatusConflict, ErrCodeBusy, "release is busy, retry the request")

	case errors.Is(err, integrations.ErrNotConfigured),
		errors.Is(err, distribution.ErrStoreNotConfigured):
		Error(w, http.StatusUnprocessableEntity, ErrCodeNotConfigured, err.Error())

	case errors.Is(err, integrations.ErrCollaborator),
		errors.Is(err, integrations.ErrRejected):
		logger.Warn("collaborator error", "error", err)
		Error(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())

	default:
		InternalError(w, logger, err)
	}
	return true
}
