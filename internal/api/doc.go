// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go              — Handler с DI (оркестратор, executor, движок дистрибуции, очередь)
//   - routes.go               — регистрация маршрутов
//   - middleware.go           — middleware (logging, metrics, recovery)
//   - response.go             — унифицированные JSON-ответы и HandleError
//   - validate.go             — декодирование тела и validator/v10
//   - dto.go                  — Data Transfer Objects (request/response)
//   - cache.go                — кэш чтения дистрибуций (go-redis/cache)
//   - release_handler.go      — обработчики для /releases
//   - task_handler.go         — обработчики для /tasks и /cycles
//   - distribution_handler.go — обработчики для /distributions
//   - callback_handler.go     — webhook'и CI и стора
//
// Команды идут через оркестратор под блокировкой релиза;
// API не меняет состояние релиза в обход него.
package api
