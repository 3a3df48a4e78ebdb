// Package regression управляет циклами регрессионного тестирования
// внутри стадии REGRESSION.
//
// Manager.Advance вызывается оркестратором на каждом тике:
// закрывает завершённые циклы, материализует наступивший слот расписания,
// отдаёт задачи последнего цикла executor'у и считает условие выхода из стадии.
//
// "Последний" цикл не хранится, а вычисляется по времени создания (domain.LatestCycle).
package regression
