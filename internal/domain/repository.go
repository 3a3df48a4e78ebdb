package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ReleaseRepository — хранилище релизов.
type ReleaseRepository interface {
	Create(ctx context.Context, r *Release) error
	GetByID(ctx context.Context, id uuid.UUID) (*Release, error)
	Update(ctx context.Context, r *Release) error

	// ListByStatus возвращает релизы в статусе status (все при пустом)
	// в порядке (created_at, id). Если after задан, только строго после него.
	ListByStatus(ctx context.Context, status ReleaseStatus, after *ReleaseCursor, limit int) ([]Release, error)
}

// ReleaseCursor — позиция keyset-пагинации по релизам.
type ReleaseCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// CursorOf возвращает курсор, указывающий на r.
func CursorOf(r *Release) *ReleaseCursor {
	return &ReleaseCursor{CreatedAt: r.CreatedAt, ID: r.ID}
}

// CronJobRepository — хранилище состояния оркестратора.
type CronJobRepository interface {
	Create(ctx context.Context, c *CronJob) error
	GetByReleaseID(ctx context.Context, releaseID uuid.UUID) (*CronJob, error)

	// Update записывает CronJob, если версия в хранилище совпадает с c.Version.
	// При успехе c.Version увеличивается, иначе возвращается ErrVersionConflict.
	Update(ctx context.Context, c *CronJob) error
}

// TaskRepository — хранилище задач релиза.
type TaskRepository interface {
	// CreateBatch вставляет задачи одной операцией.
	CreateBatch(ctx context.Context, tasks []ReleaseTask) error
	GetByID(ctx context.Context, id uuid.UUID) (*ReleaseTask, error)

	// GetByExternalID ищет задачу по корреляционному id коллаборатора.
	GetByExternalID(ctx context.Context, externalID string) (*ReleaseTask, error)
	List(ctx context.Context, releaseID uuid.UUID, filter TaskFilter) ([]ReleaseTask, error)

	// Claim атомарно переводит задачу PENDING → IN_PROGRESS.
	// ok=false означает, что задачу уже забрал кто-то другой.
	Claim(ctx context.Context, id uuid.UUID, now time.Time) (task *ReleaseTask, ok bool, err error)

	// Transition записывает задачу, только если её текущий статус равен from.
	Transition(ctx context.Context, t *ReleaseTask, from TaskStatus) (bool, error)
}

// CycleRepository — хранилище циклов регрессии.
type CycleRepository interface {
	Create(ctx context.Context, c *RegressionCycle) error
	GetByID(ctx context.Context, id uuid.UUID) (*RegressionCycle, error)
	ListByRelease(ctx context.Context, releaseID uuid.UUID) ([]RegressionCycle, error)
	Update(ctx context.Context, c *RegressionCycle) error
}

// DistributionRepository — хранилище дистрибуций и submissions.
type DistributionRepository interface {
	// Create сохраняет дистрибуцию вместе с начальными submissions.
	Create(ctx context.Context, d *Distribution, subs []Submission) error
	GetByID(ctx context.Context, id uuid.UUID) (*Distribution, error)
	GetByReleaseID(ctx context.Context, releaseID uuid.UUID) (*Distribution, error)

	// ListSubmissions возвращает все submissions дистрибуции, включая заменённые.
	ListSubmissions(ctx context.Context, distributionID uuid.UUID) ([]Submission, error)
	GetSubmission(ctx context.Context, id uuid.UUID) (*Submission, error)

	// GetSubmissionByHandle ищет submission по идентификатору стора.
	GetSubmissionByHandle(ctx context.Context, handle string) (*Submission, error)
	UpdateSubmission(ctx context.Context, s *Submission) error

	// Supersede сохраняет next и связывает с ним oldID одной транзакцией.
	Supersede(ctx context.Context, oldID uuid.UUID, next *Submission) error
}

// Repositories — набор хранилищ, которым пользуются компоненты.
type Repositories struct {
	Releases      ReleaseRepository
	CronJobs      CronJobRepository
	Tasks         TaskRepository
	Cycles        CycleRepository
	Distributions DistributionRepository
}
