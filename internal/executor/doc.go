// Package executor выполняет задачи релиза.
//
// # Обзор
//
// Executor — исполнитель отдельных задач (ReleaseTask). О стадиях он не знает:
// оркестратор и менеджер регрессии передают ему PENDING задачи.
//
// # Выполнение задачи
//
//  1. Claim: условный UPDATE PENDING → IN_PROGRESS. Проигранный claim — no-op.
//  2. Handler по TaskType вызывает ровно одного коллаборатора с таймаутом CallTimeout.
//  3. Результат:
//     - успех → COMPLETED
//     - CI запущен → AWAITING_CALLBACK (ExternalID = id запуска)
//     - CI не настроен, ручные сборки разрешены → AWAITING_MANUAL_BUILD
//     - интеграция не настроена → задача возвращается в PENDING, ошибка в лог
//     - таймаут → FAILED("timeout")
//     - любая другая ошибка → FAILED
//
// Автоматического retry нет: FAILED задачу сбрасывает в PENDING только команда Reset.
//
// # Registry
//
// TaskType — закрытое перечисление. NewRegistry регистрирует handler на каждый
// вариант, Registry.Validate проверяет полноту при старте.
//
// # Callbacks
//
// ApplyCallback и ApplyManualBuild применяются вне тика и идемпотентны:
// повторная доставка не меняет задачу.
package executor
