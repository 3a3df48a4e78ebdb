// Package distribution — выкатка релиза в сторы.
//
// Distribution создаётся оркестратором при входе в стадию DISTRIBUTION,
// по одной Submission на платформу. Дальше submissions двигаются
// командами пользователя и событиями стора, не тиками.
//
// Машины состояний:
//
//	Android (STAGED):  PENDING → IN_REVIEW → APPROVED → LIVE
//	                   процент только растёт, паузы нет, HALT финальный
//	iOS (PHASED):      тот же путь, процент сообщает стор (Sync, события),
//	                   вручную можно только 100%, PAUSE/RESUME: LIVE ↔ PAUSED
//	iOS (MANUAL):      сразу 100% при LIVE, rollout и pause — конфликт
//
// REJECTED и CANCELLED исправляются только повторной отправкой:
// создаётся новая Submission, старая остаётся в истории.
//
// Статус дистрибуции не хранится, его вычисляет DeriveStatus.
package distribution
