// Package mq — RabbitMQ-транспорт движка релизов.
//
// Очереди:
//   - release.tick      — тик релиза от ticker'а, потребитель: shipyard-orchestrator
//   - callbacks.ci      — результаты CI-сборок, потребитель: shipyard-worker
//   - callbacks.store   — события сторов, потребитель: shipyard-worker
//   - dlq.shipyard      — сообщения, которые не удалось обработать
//
// События релиза (stage.completed, release.paused, release.completed, ...)
// публикуются в topic exchange shipyard.events. Очереди к нему
// привязывают сами подписчики (дашборды, аудит).
//
// Без RABBITMQ_URL сервисы работают в polling-режиме и этот пакет не используют.
package mq
