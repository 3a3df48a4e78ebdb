package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/shaiso/Shipyard/internal/domain"
	"github.com/shaiso/Shipyard/internal/executor"
	"github.com/shaiso/Shipyard/internal/integrations"
	"github.com/shaiso/Shipyard/internal/mq"
)

const defaultPrefetch = 5

// CIApplier применяет результат CI-сборки к задаче. *executor.Executor удовлетворяет интерфейсу.
type CIApplier interface {
	ApplyCallback(ctx context.Context, ev executor.CallbackEvent) (*domain.ReleaseTask, bool, error)
}

// StoreApplier применяет событие стора к submission. *distribution.Engine удовлетворяет интерфейсу.
type StoreApplier interface {
	ApplyStoreStatus(ctx context.Context, handle string, st integrations.StoreStatus) (*domain.Submission, bool, error)
}

// Worker применяет callback'и коллабораторов из очередей callbacks.ci и callbacks.store.
//
// Worker не двигает стадии: результат подхватит следующий тик релиза.
// Экземпляров может быть несколько, повторная доставка идемпотентна.
type Worker struct {
	ci    CIApplier
	store StoreApplier
	conn  *mq.Connection

	prefetch int

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	CI    CIApplier
	Store StoreApplier
	Conn  *mq.Connection

	// Prefetch — неподтверждённых сообщений на очередь (default: 5).
	Prefetch int

	Logger *slog.Logger
}

// New создаёт Worker.
func New(cfg Config) *Worker {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		ci:       cfg.CI,
		store:    cfg.Store,
		conn:     cfg.Conn,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Start запускает consumer'ы обеих очередей.
func (w *Worker) Start(ctx context.Context) error {
	if w.conn == nil {
		return errors.New("worker: mq connection is nil")
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	consumers := []mq.ConsumerConfig{
		{Queue: mq.QueueCallbacksCI, Handler: w.HandleCICallback, Prefetch: w.prefetch},
		{Queue: mq.QueueCallbacksStore, Handler: w.HandleStoreCallback, Prefetch: w.prefetch},
	}
	for _, cfg := range consumers {
		consumer := mq.NewConsumer(w.conn, w.logger, cfg)
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("callback consumer error", "queue", cfg.Queue, "error", err)
			}
		}()
	}

	w.logger.Info("worker started", "prefetch", w.prefetch)
	return nil
}

// Stop останавливает consumer'ы и ждёт их завершения.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}
