// Package telemetry — логирование и метрики Shipyard.
//
// logging.go настраивает slog по LOG_LEVEL / LOG_FORMAT и даёт хелперы
// для атрибутов release_id и task_id.
//
// metrics.go объявляет счётчики тиков, задач, стадий, пауз и действий
// над submissions. Каждый сервис отдаёт их на /metrics.
package telemetry
