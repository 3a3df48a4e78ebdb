// Package worker применяет асинхронные события коллабораторов.
//
// Worker читает две очереди RabbitMQ:
//   - callbacks.ci: результат CI-сборки, применяется через executor.ApplyCallback
//   - callbacks.store: смена состояния отправки в сторе, через distribution.ApplyStoreStatus
//
// Повторная доставка безопасна: применители идемпотентны, дубликат подтверждается.
// Неизвестная задача или handle и битый payload уходят в DLQ (mq.Permanent),
// остальные ошибки возвращают сообщение в очередь.
//
//	w := worker.New(worker.Config{
//	    CI:     exec,
//	    Store:  dist,
//	    Conn:   mqConn,
//	    Logger: logger,
//	})
//	if err := w.Start(ctx); err != nil { ... }
//	defer w.Stop()
package worker
