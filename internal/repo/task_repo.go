package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Shipyard/internal/domain"
)

// TaskRepo — репозиторий для работы с release_tasks.
type TaskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepo создаёт новый TaskRepo.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `
	id, release_id, stage, type, platform, cycle_id, status, conclusion, error,
	external_id, external_data, artifacts, attempt, started_at, finished_at, created_at`

// CreateBatch вставляет задачи одним batch-запросом.
func (r *TaskRepo) CreateBatch(ctx context.Context, tasks []domain.ReleaseTask) error {
	if len(tasks) == 0 {
		return nil
	}

	query := `
		INSERT INTO release_tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	batch := &pgx.Batch{}
	for i := range tasks {
		t := &tasks[i]
		dataJSON, artifactsJSON, err := marshalTask(t)
		if err != nil {
			return err
		}
		batch.Queue(query,
			t.ID,
			t.ReleaseID,
			t.Stage,
			t.Type,
			nullString(string(t.Platform)),
			nullUUID(t.CycleID),
			t.Status,
			nullString(t.Conclusion),
			nullString(t.Error),
			nullString(t.ExternalID),
			dataJSON,
			artifactsJSON,
			t.Attempt,
			t.StartedAt,
			t.FinishedAt,
			t.CreatedAt,
		)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert tasks: %w", err)
	}
	return nil
}

// GetByID возвращает задачу по ID.
func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ReleaseTask, error) {
	query := `SELECT ` + taskColumns + ` FROM release_tasks WHERE id = $1`
	return scanTask(r.pool.QueryRow(ctx, query, id))
}

// GetByExternalID возвращает задачу по корреляционному id.
func (r *TaskRepo) GetByExternalID(ctx context.Context, externalID string) (*domain.ReleaseTask, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM release_tasks
		WHERE external_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanTask(r.pool.QueryRow(ctx, query, externalID))
}

// List возвращает задачи релиза с фильтрацией.
func (r *TaskRepo) List(ctx context.Context, releaseID uuid.UUID, filter domain.TaskFilter) ([]domain.ReleaseTask, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM release_tasks
		WHERE release_id = $1
		  AND ($2::text IS NULL OR stage = $2)
		  AND ($3::uuid IS NULL OR cycle_id = $3)
		  AND ($4::text IS NULL OR status = $4)
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.pool.Query(ctx, query,
		releaseID,
		nullString(string(filter.Stage)),
		nullUUID(filter.CycleID),
		nullString(string(filter.Status)),
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.ReleaseTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// Claim переводит задачу PENDING → IN_PROGRESS условным UPDATE.
func (r *TaskRepo) Claim(ctx context.Context, id uuid.UUID, now time.Time) (*domain.ReleaseTask, bool, error) {
	query := `
		UPDATE release_tasks
		SET status = 'IN_PROGRESS', attempt = attempt + 1, started_at = $2, finished_at = NULL
		WHERE id = $1 AND status = 'PENDING'
		RETURNING ` + taskColumns
	t, err := scanTask(r.pool.QueryRow(ctx, query, id, now))
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("claim task: %w", err)
	}
	return t, true, nil
}

// Transition записывает задачу, если её статус в БД равен from.
func (r *TaskRepo) Transition(ctx context.Context, t *domain.ReleaseTask, from domain.TaskStatus) (bool, error) {
	dataJSON, artifactsJSON, err := marshalTask(t)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE release_tasks
		SET status = $3, conclusion = $4, error = $5, external_id = $6, external_data = $7,
		    artifacts = $8, attempt = $9, started_at = $10, finished_at = $11
		WHERE id = $1 AND status = $2
	`
	result, err := r.pool.Exec(ctx, query,
		t.ID,
		from,
		t.Status,
		nullString(t.Conclusion),
		nullString(t.Error),
		nullString(t.ExternalID),
		dataJSON,
		artifactsJSON,
		t.Attempt,
		t.StartedAt,
		t.FinishedAt,
	)
	if err != nil {
		return false, fmt.Errorf("update task: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

func marshalTask(t *domain.ReleaseTask) (data, artifacts []byte, err error) {
	if t.ExternalData != nil {
		if data, err = json.Marshal(t.ExternalData); err != nil {
			return nil, nil, fmt.Errorf("marshal external data: %w", err)
		}
	}
	if t.Artifacts != nil {
		if artifacts, err = json.Marshal(t.Artifacts); err != nil {
			return nil, nil, fmt.Errorf("marshal artifacts: %w", err)
		}
	}
	return data, artifacts, nil
}

// scanTask сканирует одну строку в ReleaseTask.
func scanTask(row pgx.Row) (*domain.ReleaseTask, error) {
	var t domain.ReleaseTask
	var platform, conclusion, taskError, externalID *string
	var dataJSON, artifactsJSON []byte

	err := row.Scan(
		&t.ID,
		&t.ReleaseID,
		&t.Stage,
		&t.Type,
		&platform,
		&t.CycleID,
		&t.Status,
		&conclusion,
		&taskError,
		&externalID,
		&dataJSON,
		&artifactsJSON,
		&t.Attempt,
		&t.StartedAt,
		&t.FinishedAt,
		&t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	t.Platform = domain.Platform(fromNull(platform))
	t.Conclusion = fromNull(conclusion)
	t.Error = fromNull(taskError)
	t.ExternalID = fromNull(externalID)

	if dataJSON != nil {
		if err := json.Unmarshal(dataJSON, &t.ExternalData); err != nil {
			return nil, fmt.Errorf("unmarshal external data: %w", err)
		}
	}
	if artifactsJSON != nil {
		if err := json.Unmarshal(artifactsJSON, &t.Artifacts); err != nil {
			return nil, fmt.Errorf("unmarshal artifacts: %w", err)
		}
	}
	return &t, nil
}
