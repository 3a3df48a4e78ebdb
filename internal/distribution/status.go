package distribution

import "github.com/shaiso/Shipyard/internal/domain"

// DeriveStatus вычисляет статус дистрибуции по её submissions.
//
// Учитываются только текущие submissions (не заменённые повторной отправкой).
// Функция чистая: одинаковый вход даёт одинаковый результат.
func DeriveStatus(subs []domain.Submission) domain.DistributionStatus {
	current := Current(subs)
	if len(current) == 0 {
		return domain.DistributionStatusPending
	}

	released, live, submitted := 0, 0, 0
	for _, s := range current {
		if s.Status == domain.SubmissionStatusLive && s.RolloutPercent >= 100 {
			released++
		}
		// Побывавшая в LIVE submission держит PARTIALLY_RELEASED и после HALTED.
		if s.Status.IsReleased() || s.LiveAt != nil {
			live++
		}
		if s.IsSubmitted() {
			submitted++
		}
	}

	switch {
	case released == len(current):
		return domain.DistributionStatusReleased
	case live > 0:
		return domain.DistributionStatusPartiallyReleased
	case submitted == 0:
		return domain.DistributionStatusPending
	case submitted == len(current):
		return domain.DistributionStatusSubmitted
	default:
		return domain.DistributionStatusPartiallySubmitted
	}
}

// Current возвращает submissions, не заменённые повторной отправкой.
func Current(subs []domain.Submission) []domain.Submission {
	out := make([]domain.Submission, 0, len(subs))
	for _, s := range subs {
		if s.IsCurrent() {
			out = append(out, s)
		}
	}
	return out
}
