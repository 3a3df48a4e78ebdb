// Package memory — in-memory реализация хранилищ.
//
// Используется в тестах и в режиме локальной разработки (DB_URL=memory).
// Семантика совпадает с pgx-реализацией: условный claim задач,
// проверка версии CronJob, неизменяемость закрытых циклов.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Shipyard/internal/domain"
)

type state struct {
	mu            sync.RWMutex
	releases      map[uuid.UUID]domain.Release
	cronJobs      map[uuid.UUID]domain.CronJob // по release_id
	tasks         map[uuid.UUID]domain.ReleaseTask
	cycles        map[uuid.UUID]domain.RegressionCycle
	distributions map[uuid.UUID]domain.Distribution
	submissions   map[uuid.UUID]domain.Submission
}

// New создаёт пустой набор in-memory хранилищ.
func New() domain.Repositories {
	s := &state{
		releases:      make(map[uuid.UUID]domain.Release),
		cronJobs:      make(map[uuid.UUID]domain.CronJob),
		tasks:         make(map[uuid.UUID]domain.ReleaseTask),
		cycles:        make(map[uuid.UUID]domain.RegressionCycle),
		distributions: make(map[uuid.UUID]domain.Distribution),
		submissions:   make(map[uuid.UUID]domain.Submission),
	}
	return domain.Repositories{
		Releases:      &releases{s},
		CronJobs:      &cronJobs{s},
		Tasks:         &tasks{s},
		Cycles:        &cycles{s},
		Distributions: &distributions{s},
	}
}

// --- Releases ---

type releases struct{ *state }

func (r *releases) Create(_ context.Context, rel *domain.Release) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.releases {
		if existing.TenantID == rel.TenantID && existing.Code == rel.Code {
			return fmt.Errorf("%w: release %s", domain.ErrAlreadyExists, rel.Code)
		}
	}
	cp := *rel
	cp.Platforms = append([]domain.PlatformTarget(nil), rel.Platforms...)
	r.releases[rel.ID] = cp
	return nil
}

func (r *releases) GetByID(_ context.Context, id uuid.UUID) (*domain.Release, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rel, ok := r.releases[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	rel.Platforms = append([]domain.PlatformTarget(nil), rel.Platforms...)
	return &rel, nil
}

func (r *releases) Update(_ context.Context, rel *domain.Release) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.releases[rel.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *rel
	cp.Platforms = append([]domain.PlatformTarget(nil), rel.Platforms...)
	r.releases[rel.ID] = cp
	return nil
}

func (r *releases) ListByStatus(_ context.Context, status domain.ReleaseStatus, after *domain.ReleaseCursor, limit int) ([]domain.Release, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Release
	for _, rel := range r.releases {
		if status != "" && rel.Status != status {
			continue
		}
		if after != nil && !cursorLess(after, domain.CursorOf(&rel)) {
			continue
		}
		out = append(out, rel)
	}
	sort.Slice(out, func(i, j int) bool { return cursorLess(domain.CursorOf(&out[i]), domain.CursorOf(&out[j])) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// cursorLess сравнивает курсоры так же, как Postgres сравнивает (created_at, id).
func cursorLess(a, b *domain.ReleaseCursor) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

// --- CronJobs ---

type cronJobs struct{ *state }

func (r *cronJobs) Create(_ context.Context, c *domain.CronJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cronJobs[c.ReleaseID]; ok {
		return fmt.Errorf("%w: cron job for release %s", domain.ErrAlreadyExists, c.ReleaseID)
	}
	r.cronJobs[c.ReleaseID] = *c.Clone()
	return nil
}

func (r *cronJobs) GetByReleaseID(_ context.Context, releaseID uuid.UUID) (*domain.CronJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cronJobs[releaseID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c.Clone(), nil
}

func (r *cronJobs) Update(_ context.Context, c *domain.CronJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.cronJobs[c.ReleaseID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != c.Version {
		return fmt.Errorf("%w: cron job %s at version %d", domain.ErrVersionConflict, c.ID, c.Version)
	}
	c.Version++
	r.cronJobs[c.ReleaseID] = *c.Clone()
	return nil
}

// --- Tasks ---

type tasks struct{ *state }

func (r *tasks) CreateBatch(_ context.Context, batch []domain.ReleaseTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range batch {
		if _, ok := r.tasks[t.ID]; ok {
			return fmt.Errorf("%w: task %s", domain.ErrAlreadyExists, t.ID)
		}
	}
	for _, t := range batch {
		r.tasks[t.ID] = t.Clone()
	}
	return nil
}

func (r *tasks) GetByID(_ context.Context, id uuid.UUID) (*domain.ReleaseTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	t = t.Clone()
	return &t, nil
}

func (r *tasks) GetByExternalID(_ context.Context, externalID string) (*domain.ReleaseTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *domain.ReleaseTask
	for _, t := range r.tasks {
		if t.ExternalID != externalID || externalID == "" {
			continue
		}
		if found == nil || t.CreatedAt.After(found.CreatedAt) {
			cp := t.Clone()
			found = &cp
		}
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	return found, nil
}

func (r *tasks) List(_ context.Context, releaseID uuid.UUID, f domain.TaskFilter) ([]domain.ReleaseTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.ReleaseTask
	for _, t := range r.tasks {
		if t.ReleaseID != releaseID {
			continue
		}
		if f.Stage != "" && t.Stage != f.Stage {
			continue
		}
		if f.CycleID != nil && (t.CycleID == nil || *t.CycleID != *f.CycleID) {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *tasks) Claim(_ context.Context, id uuid.UUID, now time.Time) (*domain.ReleaseTask, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Status != domain.TaskStatusPending {
		return nil, false, nil
	}
	t.MarkInProgress(now)
	r.tasks[id] = t
	cp := t.Clone()
	return &cp, true, nil
}

func (r *tasks) Transition(_ context.Context, t *domain.ReleaseTask, from domain.TaskStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tasks[t.ID]
	if !ok || stored.Status != from {
		return false, nil
	}
	r.tasks[t.ID] = t.Clone()
	return true, nil
}

// --- Cycles ---

type cycles struct{ *state }

func (r *cycles) Create(_ context.Context, c *domain.RegressionCycle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.cycles {
		if existing.ReleaseID == c.ReleaseID && existing.SlotIndex == c.SlotIndex {
			return fmt.Errorf("%w: cycle for slot %d", domain.ErrAlreadyExists, c.SlotIndex)
		}
	}
	r.cycles[c.ID] = *c
	return nil
}

func (r *cycles) GetByID(_ context.Context, id uuid.UUID) (*domain.RegressionCycle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cycles[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (r *cycles) ListByRelease(_ context.Context, releaseID uuid.UUID) ([]domain.RegressionCycle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.RegressionCycle
	for _, c := range r.cycles {
		if c.ReleaseID == releaseID {
			out = append(out, c)
		}
	}
	return domain.SortCycles(out), nil
}

func (r *cycles) Update(_ context.Context, c *domain.RegressionCycle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.cycles[c.ID]
	if !ok || stored.Status.IsTerminal() {
		return fmt.Errorf("%w: cycle %s is closed or missing", domain.ErrConflict, c.ID)
	}
	stored.Status = c.Status
	stored.CompletedAt = c.CompletedAt
	r.cycles[c.ID] = stored
	return nil
}

// --- Distributions ---

type distributions struct{ *state }

func (r *distributions) Create(_ context.Context, d *domain.Distribution, subs []domain.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.distributions {
		if existing.ReleaseID == d.ReleaseID {
			return fmt.Errorf("%w: distribution for release %s", domain.ErrAlreadyExists, d.ReleaseID)
		}
	}
	cp := *d
	cp.Platforms = append([]domain.Platform(nil), d.Platforms...)
	r.distributions[d.ID] = cp
	for _, s := range subs {
		r.submissions[s.ID] = s.Clone()
	}
	return nil
}

func (r *distributions) GetByID(_ context.Context, id uuid.UUID) (*domain.Distribution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.distributions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &d, nil
}

func (r *distributions) GetByReleaseID(_ context.Context, releaseID uuid.UUID) (*domain.Distribution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.distributions {
		if d.ReleaseID == releaseID {
			return &d, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *distributions) ListSubmissions(_ context.Context, distributionID uuid.UUID) ([]domain.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Submission
	for _, s := range r.submissions {
		if s.DistributionID == distributionID {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Platform < out[j].Platform
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *distributions) GetSubmission(_ context.Context, id uuid.UUID) (*domain.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.submissions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	s = s.Clone()
	return &s, nil
}

func (r *distributions) GetSubmissionByHandle(_ context.Context, handle string) (*domain.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *domain.Submission
	for _, s := range r.submissions {
		if handle == "" || s.StoreHandle != handle {
			continue
		}
		if found == nil || s.CreatedAt.After(found.CreatedAt) {
			cp := s.Clone()
			found = &cp
		}
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	return found, nil
}

func (r *distributions) UpdateSubmission(_ context.Context, s *domain.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.submissions[s.ID]
	if !ok {
		return domain.ErrNotFound
	}
	cp := s.Clone()
	cp.SupersededBy = stored.SupersededBy
	r.submissions[s.ID] = cp
	return nil
}

func (r *distributions) Supersede(_ context.Context, oldID uuid.UUID, next *domain.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.submissions[oldID]
	if !ok {
		return domain.ErrNotFound
	}
	if old.SupersededBy != nil {
		return fmt.Errorf("%w: submission %s already superseded", domain.ErrConflict, oldID)
	}
	id := next.ID
	old.SupersededBy = &id
	r.submissions[oldID] = old
	r.submissions[next.ID] = next.Clone()
	return nil
}
