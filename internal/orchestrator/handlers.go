package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Shipyard/internal/domain"
	"github.com/shaiso/Shipyard/internal/lock"
	"github.com/shaiso/Shipyard/internal/mq"
)

// Consume читает очередь release.tick до отмены ctx.
func (o *Orchestrator) Consume(ctx context.Context, conn *mq.Connection, prefetch int) error {
	consumer := mq.NewConsumer(conn, o.logger, mq.ConsumerConfig{
		Queue:    mq.QueueReleaseTick,
		Handler:  o.HandleTick,
		Prefetch: prefetch,
	})
	err := consumer.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// HandleTick обрабатывает сообщение release.tick.
func (o *Orchestrator) HandleTick(ctx context.Context, msg *mq.Message) error {
	payload, err := mq.ParsePayload[mq.ReleaseTickPayload](msg)
	if err != nil {
		return mq.Permanent(err)
	}

	res, err := o.Tick(ctx, payload.ReleaseID)
	switch {
	case err == nil:
		o.logger.Debug("tick done",
			"release_id", payload.ReleaseID,
			"outcome", res.Outcome,
			"stage", res.Stage,
		)
		return nil

	// Тик уже идёт в другом процессе или CronJob изменили параллельно:
	// следующий тик всё равно придёт.
	case errors.Is(err, lock.ErrNotAcquired), errors.Is(err, domain.ErrVersionConflict):
		o.logger.Debug("tick skipped", "release_id", payload.ReleaseID, "reason", err)
		return nil

	case errors.Is(err, ErrReleaseNotFound):
		return mq.Permanent(err)

	default:
		o.logger.Error("tick failed", "release_id", payload.ReleaseID, "error", err)
		return fmt.Errorf("tick %s: %w", payload.ReleaseID, err)
	}
}
