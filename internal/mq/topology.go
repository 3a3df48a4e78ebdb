package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

const (
	ExchangeTicks     Exchange = "shipyard.ticks"
	ExchangeCallbacks Exchange = "shipyard.callbacks"
	ExchangeEvents    Exchange = "shipyard.events"
	ExchangeDLQ       Exchange = "shipyard.dlq"
)

const (
	QueueReleaseTick    Queue = "release.tick"
	QueueCallbacksCI    Queue = "callbacks.ci"
	QueueCallbacksStore Queue = "callbacks.store"
	QueueDLQ            Queue = "dlq.shipyard"
)

const (
	RoutingKeyTick  RoutingKey = "tick"
	RoutingKeyCI    RoutingKey = "ci"
	RoutingKeyStore RoutingKey = "store"
	RoutingKeyDLQ   RoutingKey = "dead"
)

type binding struct {
	queue    Queue
	key      RoutingKey
	exchange Exchange
	dlq      bool
}

var bindings = []binding{
	{QueueReleaseTick, RoutingKeyTick, ExchangeTicks, true},
	{QueueCallbacksCI, RoutingKeyCI, ExchangeCallbacks, true},
	{QueueCallbacksStore, RoutingKeyStore, ExchangeCallbacks, true},
	{QueueDLQ, RoutingKeyDLQ, ExchangeDLQ, false},
}

// SetupTopology объявляет exchanges, очереди и привязки. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		exchanges := []struct {
			name Exchange
			kind string
		}{
			{ExchangeTicks, amqp.ExchangeDirect},
			{ExchangeCallbacks, amqp.ExchangeDirect},
			{ExchangeEvents, amqp.ExchangeTopic},
			{ExchangeDLQ, amqp.ExchangeDirect},
		}
		for _, ex := range exchanges {
			if err := ch.ExchangeDeclare(string(ex.name), ex.kind, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}

		for _, b := range bindings {
			var args amqp.Table
			if b.dlq {
				args = amqp.Table{
					"x-dead-letter-exchange":    string(ExchangeDLQ),
					"x-dead-letter-routing-key": string(RoutingKeyDLQ),
				}
			}
			if _, err := ch.QueueDeclare(string(b.queue), true, false, false, false, args); err != nil {
				return fmt.Errorf("declare queue %s: %w", b.queue, err)
			}
			if err := ch.QueueBind(string(b.queue), string(b.key), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}
		return nil
	})
}

// TopologyInfo — схема топологии для лога при старте.
func TopologyInfo() string {
	return `
  shipyard.ticks (direct)
  └── release.tick [tick]          → shipyard-orchestrator
  shipyard.callbacks (direct)
  ├── callbacks.ci [ci]            → shipyard-worker
  └── callbacks.store [store]      → shipyard-worker
  shipyard.events (topic)          → подписчики привязывают свои очереди
  shipyard.dlq (direct)
  └── dlq.shipyard [dead]
`
}
