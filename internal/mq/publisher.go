package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Shipyard/internal/domain"
)

// MessageType — тип сообщения.
type MessageType string

const (
	MessageTypeReleaseTick   MessageType = "release.tick"
	MessageTypeCICallback    MessageType = "callback.ci"
	MessageTypeStoreCallback MessageType = "callback.store"
	MessageTypeReleaseEvent  MessageType = "release.event"
)

// Message — конверт всех сообщений.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// ReleaseTickPayload — запрос на тик релиза.
type ReleaseTickPayload struct {
	ReleaseID uuid.UUID `json:"release_id"`
}

// CICallbackPayload — результат CI-сборки.
// Задача ищется по TaskID, если он задан, иначе по ExternalID (id запуска).
type CICallbackPayload struct {
	TaskID     uuid.UUID              `json:"task_id,omitempty"`
	ExternalID string                 `json:"external_id,omitempty"`
	Success    bool                   `json:"success"`
	Conclusion string                 `json:"conclusion,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Artifacts  []domain.BuildArtifact `json:"artifacts,omitempty"`
}

// StoreCallbackPayload — событие стора по отправке.
type StoreCallbackPayload struct {
	Handle         string                  `json:"handle"`
	Status         domain.SubmissionStatus `json:"status"`
	RolloutPercent float64                 `json:"rollout_percent,omitempty"`
	Reason         string                  `json:"reason,omitempty"`
}

// Имена событий релиза. Совпадают с routing key в shipyard.events.
const (
	EventKickedOff      = "release.kicked_off"
	EventStageCompleted = "stage.completed"
	EventPaused         = "release.paused"
	EventResumed        = "release.resumed"
	EventCompleted      = "release.completed"
	EventArchived       = "release.archived"
)

// ReleaseEvent — событие жизненного цикла релиза для дашбордов.
type ReleaseEvent struct {
	ReleaseID uuid.UUID        `json:"release_id"`
	Code      string           `json:"code"`
	Event     string           `json:"event"`
	Stage     domain.Stage     `json:"stage,omitempty"`
	PauseType domain.PauseType `json:"pause_type,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	At        time.Time        `json:"at"`
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, logger: logger}
}

// Publish публикует payload в exchange с ключом key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, key RoutingKey, msgType MessageType, payload any) error {
	msg := Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(ctx, string(exchange), string(key), false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Type:         string(msgType),
			Timestamp:    msg.Timestamp,
			Body:         body,
		})
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, key, err)
		}
		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", key,
			"message_id", msg.ID,
			"type", msgType,
		)
		return nil
	})
}

// PublishTick ставит тик релиза в очередь. Потребитель: shipyard-orchestrator.
func (p *Publisher) PublishTick(ctx context.Context, releaseID uuid.UUID) error {
	return p.Publish(ctx, ExchangeTicks, RoutingKeyTick, MessageTypeReleaseTick, ReleaseTickPayload{ReleaseID: releaseID})
}

// PublishCICallback передаёт результат CI-сборки. Потребитель: shipyard-worker.
func (p *Publisher) PublishCICallback(ctx context.Context, payload CICallbackPayload) error {
	return p.Publish(ctx, ExchangeCallbacks, RoutingKeyCI, MessageTypeCICallback, payload)
}

// PublishStoreCallback передаёт событие стора. Потребитель: shipyard-worker.
func (p *Publisher) PublishStoreCallback(ctx context.Context, payload StoreCallbackPayload) error {
	return p.Publish(ctx, ExchangeCallbacks, RoutingKeyStore, MessageTypeStoreCallback, payload)
}

// PublishReleaseEvent публикует событие релиза в shipyard.events.
func (p *Publisher) PublishReleaseEvent(ctx context.Context, ev ReleaseEvent) error {
	return p.Publish(ctx, ExchangeEvents, RoutingKey(ev.Event), MessageTypeReleaseEvent, ev)
}
