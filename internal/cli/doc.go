// Package cli реализует инструмент командной строки Shipyard.
//
// CLI работает только через HTTP API и не импортирует внутренние пакеты,
// поэтому типы ответов здесь продублированы.
//
// Client инкапсулирует запросы и разбор конвертов {"data"} / {"error"}.
// Ошибка API возвращается как *APIError; для конфликта версий
// в ней есть Options с допустимыми вариантами разрешения.
//
// Output печатает таблицу (text/tabwriter) или JSON при --json.
// Данные идут в stdout, сообщения в stderr:
//
//	shipyard release list --json | jq '.[].code'
//
// Команды сгруппированы по ресурсам:
//   - release: list, start, show, pause, resume, archive, trigger, tick, tasks, cycles
//   - task: retry, manual-build
//   - cycle: abandon
//   - distribution: show, history, submit, rollout, pause, resume, halt, cancel, resubmit
//
// Фабрики (NewReleaseCmd и т.д.) принимают clientFn и outputFn,
// чтобы Client и Output создавались после разбора persistent-флагов.
package cli
