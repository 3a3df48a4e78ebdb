package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Shipyard/internal/domain"
)

// CronJobRepo — репозиторий для работы с cron_jobs.
//
// Запись идёт с проверкой version: два параллельных тика одного релиза
// не могут оба записать своё состояние.
type CronJobRepo struct {
	pool *pgxpool.Pool
}

// NewCronJobRepo создаёт новый CronJobRepo.
func NewCronJobRepo(pool *pgxpool.Pool) *CronJobRepo {
	return &CronJobRepo{pool: pool}
}

// Create создаёт cron job.
func (r *CronJobRepo) Create(ctx context.Context, c *domain.CronJob) error {
	stagesJSON, autoJSON, configJSON, err := marshalCronJob(c)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO cron_jobs (id, release_id, cron_status, stages, pause_type, pause_reason,
		                       auto_transitions, config, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.pool.Exec(ctx, query,
		c.ID,
		c.ReleaseID,
		c.CronStatus,
		stagesJSON,
		c.PauseType,
		nullString(c.PauseReason),
		autoJSON,
		configJSON,
		c.Version,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: cron job for release %s", ErrAlreadyExists, c.ReleaseID)
	}
	if err != nil {
		return fmt.Errorf("insert cron job: %w", err)
	}
	return nil
}

// GetByReleaseID возвращает cron job релиза.
func (r *CronJobRepo) GetByReleaseID(ctx context.Context, releaseID uuid.UUID) (*domain.CronJob, error) {
	query := `
		SELECT id, release_id, cron_status, stages, pause_type, pause_reason,
		       auto_transitions, config, version, created_at, updated_at
		FROM cron_jobs
		WHERE release_id = $1
	`
	var c domain.CronJob
	var stagesJSON, autoJSON, configJSON []byte
	var reason *string

	err := r.pool.QueryRow(ctx, query, releaseID).Scan(
		&c.ID,
		&c.ReleaseID,
		&c.CronStatus,
		&stagesJSON,
		&c.PauseType,
		&reason,
		&autoJSON,
		&configJSON,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan cron job: %w", err)
	}
	c.PauseReason = fromNull(reason)

	if err := json.Unmarshal(stagesJSON, &c.Stages); err != nil {
		return nil, fmt.Errorf("unmarshal stages: %w", err)
	}
	if err := json.Unmarshal(autoJSON, &c.AutoTransitions); err != nil {
		return nil, fmt.Errorf("unmarshal auto transitions: %w", err)
	}
	if err := json.Unmarshal(configJSON, &c.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

// Update записывает cron job с проверкой версии.
func (r *CronJobRepo) Update(ctx context.Context, c *domain.CronJob) error {
	stagesJSON, autoJSON, configJSON, err := marshalCronJob(c)
	if err != nil {
		return err
	}

	query := `
		UPDATE cron_jobs
		SET cron_status = $3, stages = $4, pause_type = $5, pause_reason = $6,
		    auto_transitions = $7, config = $8, version = version + 1, updated_at = $9
		WHERE id = $1 AND version = $2
	`
	result, err := r.pool.Exec(ctx, query,
		c.ID,
		c.Version,
		c.CronStatus,
		stagesJSON,
		c.PauseType,
		nullString(c.PauseReason),
		autoJSON,
		configJSON,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update cron job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: cron job %s at version %d", ErrVersionConflict, c.ID, c.Version)
	}
	c.Version++
	return nil
}

func marshalCronJob(c *domain.CronJob) (stages, auto, cfg []byte, err error) {
	if stages, err = json.Marshal(c.Stages); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal stages: %w", err)
	}
	if auto, err = json.Marshal(c.AutoTransitions); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal auto transitions: %w", err)
	}
	if cfg, err = json.Marshal(c.Config); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal config: %w", err)
	}
	return stages, auto, cfg, nil
}
