package ticker

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule — расписание тиков по умолчанию.
const DefaultSchedule = "@every 1m"

// cronParser — стандартные пять полей плюс дескрипторы (@every, @hourly).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule разбирает расписание тиков.
func ParseSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	s, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidSchedule, spec, err)
	}
	return s, nil
}
