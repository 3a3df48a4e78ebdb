// Package orchestrator — Stage Orchestrator: пошаговый автомат релиза.
//
// Пайплайн: KICKOFF → REGRESSION → PRE_RELEASE → DISTRIBUTION.
// Единственный источник истины о текущей стадии — строка CronJob.
// Тик читает CronJob, задачи и циклы, вычисляет следующее состояние
// и записывает его с проверкой версии под блокировкой релиза.
//
// Пауза (USER_REQUESTED, AWAITING_STAGE_TRIGGER, TASK_FAILURE) не
// останавливает cron: тики приходят, но ничего не диспатчат.
//
// Явные команды (Pause, Resume, RetryFailedTask, TriggerNextStage,
// Archive) выполняются вне тика под той же блокировкой.
package orchestrator
