// Package integrations описывает внешних коллабораторов движка релизов.
//
// Интерфейсы узкие: одна операция на каждое действие ядра.
//   - SCM — ветки, теги, проверка cherry-pick
//   - CI — запуск сборок (результат приходит callback'ом)
//   - TestManagement — тестовые сьюты и вердикт прогона
//   - ProjectManagement — релизный тикет
//   - Notifier — уведомления
//   - Store — отправка в App Store / Google Play и управление выкаткой
//
// Gateway реализует все интерфейсы поверх HTTP-шлюза интеграций.
// Детали конкретных API (Jira, Slack, GitHub Actions, сторы) живут в шлюзе.
package integrations
