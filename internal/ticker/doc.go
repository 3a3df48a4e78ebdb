// Package ticker — источник тиков для релизов.
//
// Ticker срабатывает по cron-расписанию (TICK_SCHEDULE, по умолчанию
// "@every 1m"). На каждом срабатывании лидер выбирает релизы в
// IN_PROGRESS и для каждого:
//   - публикует release.tick в RabbitMQ, если publisher настроен;
//   - иначе вызывает оркестратор напрямую, не более MaxParallel одновременно.
//
// Структура:
//   - ticker.go — Ticker (Run, Fire)
//   - cron.go   — разбор расписания
//   - leader.go — выбор лидера через pg_try_advisory_lock
//
// Использование:
//
//	t, err := ticker.New(ticker.Config{
//	    Releases:  orch,
//	    Publisher: publisher, // опционально
//	    Runner:    orch,
//	    Leader:    ticker.NewPGLeader(pool, logger),
//	    Schedule:  cfg.TickSchedule,
//	    Logger:    logger,
//	})
//	go t.Run(ctx)
package ticker
