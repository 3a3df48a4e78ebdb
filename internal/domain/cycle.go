package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// RegressionSlot — один слот расписания регрессии.
//
// Момент слота = дата kickoff + OffsetDays, время Time ("HH:MM")
// в часовом поясе релиза.
type RegressionSlot struct {
	OffsetDays int             `json:"offset_days" yaml:"offset_days"`
	Time       string          `json:"time" yaml:"time"`
	Flags      map[string]bool `json:"flags,omitempty" yaml:"flags"`
}

// At вычисляет момент наступления слота.
func (s RegressionSlot) At(kickoff time.Time, loc *time.Location) (time.Time, error) {
	hh, mm := 0, 0
	if s.Time != "" {
		if _, err := fmt.Sscanf(s.Time, "%d:%d", &hh, &mm); err != nil {
			return time.Time{}, fmt.Errorf("parse slot time %q: %w", s.Time, err)
		}
		if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
			return time.Time{}, fmt.Errorf("slot time %q out of range", s.Time)
		}
	}
	k := kickoff.In(loc)
	return time.Date(k.Year(), k.Month(), k.Day()+s.OffsetDays, hh, mm, 0, 0, loc), nil
}

// RegressionCycle — один раунд регрессионного тестирования.
//
// Переходы однонаправленные: после DONE/ABANDONED цикл не переоткрывается.
// Признак "последний" не хранится, см. LatestCycle.
type RegressionCycle struct {
	ID        uuid.UUID `json:"id"`
	ReleaseID uuid.UUID `json:"release_id"`

	// SlotIndex — индекс слота расписания, из которого создан цикл.
	SlotIndex int `json:"slot_index"`

	// Tag — RC-тег цикла, например "R-2026.10_RC2".
	Tag string `json:"tag"`

	Status CycleStatus     `json:"status"`
	Flags  map[string]bool `json:"flags,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CycleTag формирует тег цикла по коду релиза и порядковому номеру.
func CycleTag(code string, n int) string {
	return fmt.Sprintf("%s_RC%d", code, n)
}

// IsOpen возвращает true для NOT_STARTED и IN_PROGRESS.
func (c *RegressionCycle) IsOpen() bool {
	return !c.Status.IsTerminal()
}

// Start переводит цикл NOT_STARTED → IN_PROGRESS.
func (c *RegressionCycle) Start() bool {
	if c.Status != CycleStatusNotStarted {
		return false
	}
	c.Status = CycleStatusInProgress
	return true
}

// Finish переводит открытый цикл в DONE.
func (c *RegressionCycle) Finish(now time.Time) bool {
	if !c.IsOpen() {
		return false
	}
	c.Status = CycleStatusDone
	c.CompletedAt = &now
	return true
}

// Abandon переводит открытый цикл в ABANDONED.
func (c *RegressionCycle) Abandon(now time.Time) bool {
	if !c.IsOpen() {
		return false
	}
	c.Status = CycleStatusAbandoned
	c.CompletedAt = &now
	return true
}

// LatestCycle возвращает самый свежий цикл по CreatedAt (при равенстве — по SlotIndex).
func LatestCycle(cycles []RegressionCycle) (*RegressionCycle, bool) {
	if len(cycles) == 0 {
		return nil, false
	}
	sorted := SortCycles(cycles)
	latest := sorted[len(sorted)-1]
	return &latest, true
}

// SortCycles возвращает копию циклов в порядке создания.
func SortCycles(cycles []RegressionCycle) []RegressionCycle {
	out := append([]RegressionCycle(nil), cycles...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SlotIndex < out[j].SlotIndex
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
