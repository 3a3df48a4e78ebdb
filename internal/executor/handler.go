package executor

import (
	"context"
	"fmt"

	"github.com/shaiso/Shipyard/internal/domain"
)

// Request — входные данные handler'а.
type Request struct {
	Release *domain.Release
	Task    *domain.ReleaseTask
	Config  domain.StageConfig

	// Refs — ExternalID последних завершённых задач релиза по типу
	// (id тестового сьюта, ключ тикета).
	Refs map[domain.TaskType]string
}

// Outcome — результат handler'а.
//
// Status: COMPLETED или AWAITING_CALLBACK. FAILED выражается через error.
type Outcome struct {
	Status     domain.TaskStatus
	Conclusion string
	ExternalID string
	Data       map[string]any
}

// Handler выполняет задачу одного типа, обращаясь ровно к одному коллаборатору.
type Handler interface {
	Handle(ctx context.Context, req Request) (Outcome, error)
}

// HandlerFunc — функция-адаптер для Handler.
type HandlerFunc func(ctx context.Context, req Request) (Outcome, error)

// Handle вызывает f(ctx, req).
func (f HandlerFunc) Handle(ctx context.Context, req Request) (Outcome, error) {
	return f(ctx, req)
}

// Registry — реестр handler'ов по типу задачи.
type Registry struct {
	handlers map[domain.TaskType]Handler
}

// NewEmptyRegistry создаёт пустой реестр.
func NewEmptyRegistry() *Registry {
	return &Registry{handlers: make(map[domain.TaskType]Handler)}
}

// Register добавляет handler для типа задачи.
func (r *Registry) Register(t domain.TaskType, h Handler) {
	r.handlers[t] = h
}

// Get возвращает handler для типа задачи.
func (r *Registry) Get(t domain.TaskType) (Handler, error) {
	h, ok := r.handlers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTaskType, t)
	}
	return h, nil
}

// Validate проверяет, что для каждого варианта TaskType есть handler.
func (r *Registry) Validate() error {
	for _, t := range domain.AllTaskTypes {
		if _, ok := r.handlers[t]; !ok {
			return fmt.Errorf("%w: no handler for %s", ErrUnknownTaskType, t)
		}
	}
	return nil
}
