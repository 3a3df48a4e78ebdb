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

// DistributionRepo — репозиторий для distributions и submissions.
type DistributionRepo struct {
	pool *pgxpool.Pool
}

// NewDistributionRepo создаёт новый DistributionRepo.
func NewDistributionRepo(pool *pgxpool.Pool) *DistributionRepo {
	return &DistributionRepo{pool: pool}
}

const submissionColumns = `
	id, distribution_id, platform, release_mode, status, rollout_percent, version,
	build_number, artifact_ref, release_notes, store_handle, submitted_by, submitted_at,
	live_at, paused_at, phased_paused_for, history, superseded_by, created_at, updated_at`

// Create сохраняет дистрибуцию и её submissions в одной транзакции.
func (r *DistributionRepo) Create(ctx context.Context, d *domain.Distribution, subs []domain.Submission) error {
	platformsJSON, err := json.Marshal(d.Platforms)
	if err != nil {
		return fmt.Errorf("marshal platforms: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO distributions (id, release_id, platforms, created_at)
		VALUES ($1, $2, $3, $4)
	`, d.ID, d.ReleaseID, platformsJSON, d.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: distribution for release %s", ErrAlreadyExists, d.ReleaseID)
	}
	if err != nil {
		return fmt.Errorf("insert distribution: %w", err)
	}

	for i := range subs {
		if err := insertSubmission(ctx, tx, &subs[i]); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// GetByID возвращает дистрибуцию по ID.
func (r *DistributionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Distribution, error) {
	query := `SELECT id, release_id, platforms, created_at FROM distributions WHERE id = $1`
	return scanDistribution(r.pool.QueryRow(ctx, query, id))
}

// GetByReleaseID возвращает дистрибуцию релиза.
func (r *DistributionRepo) GetByReleaseID(ctx context.Context, releaseID uuid.UUID) (*domain.Distribution, error) {
	query := `SELECT id, release_id, platforms, created_at FROM distributions WHERE release_id = $1`
	return scanDistribution(r.pool.QueryRow(ctx, query, releaseID))
}

// ListSubmissions возвращает все submissions дистрибуции, включая заменённые.
func (r *DistributionRepo) ListSubmissions(ctx context.Context, distributionID uuid.UUID) ([]domain.Submission, error) {
	query := `
		SELECT ` + submissionColumns + `
		FROM submissions
		WHERE distribution_id = $1
		ORDER BY created_at ASC, platform ASC
	`
	rows, err := r.pool.Query(ctx, query, distributionID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var subs []domain.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *s)
	}
	return subs, rows.Err()
}

// GetSubmission возвращает submission по ID.
func (r *DistributionRepo) GetSubmission(ctx context.Context, id uuid.UUID) (*domain.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE id = $1`
	return scanSubmission(r.pool.QueryRow(ctx, query, id))
}

// GetSubmissionByHandle возвращает submission по идентификатору стора.
func (r *DistributionRepo) GetSubmissionByHandle(ctx context.Context, handle string) (*domain.Submission, error) {
	query := `
		SELECT ` + submissionColumns + `
		FROM submissions
		WHERE store_handle = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanSubmission(r.pool.QueryRow(ctx, query, handle))
}

// UpdateSubmission обновляет изменяемые поля submission.
func (r *DistributionRepo) UpdateSubmission(ctx context.Context, s *domain.Submission) error {
	historyJSON, err := json.Marshal(s.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	query := `
		UPDATE submissions
		SET status = $2, rollout_percent = $3, version = $4, build_number = $5,
		    artifact_ref = $6, release_notes = $7, store_handle = $8, submitted_by = $9,
		    submitted_at = $10, live_at = $11, paused_at = $12, phased_paused_for = $13,
		    history = $14, updated_at = $15
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		s.ID,
		s.Status,
		s.RolloutPercent,
		s.Version,
		nullString(s.BuildNumber),
		nullString(s.ArtifactRef),
		nullString(s.ReleaseNotes),
		nullString(s.StoreHandle),
		nullString(s.SubmittedBy),
		s.SubmittedAt,
		s.LiveAt,
		s.PausedAt,
		int64(s.PhasedPausedFor),
		historyJSON,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Supersede вставляет next и проставляет superseded_by у старой submission.
// Остальные поля старой submission не меняются.
func (r *DistributionRepo) Supersede(ctx context.Context, oldID uuid.UUID, next *domain.Submission) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertSubmission(ctx, tx, next); err != nil {
		return err
	}
	result, err := tx.Exec(ctx, `
		UPDATE submissions SET superseded_by = $2
		WHERE id = $1 AND superseded_by IS NULL
	`, oldID, next.ID)
	if err != nil {
		return fmt.Errorf("link superseded submission: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: submission %s already superseded", domain.ErrConflict, oldID)
	}
	return tx.Commit(ctx)
}

func insertSubmission(ctx context.Context, tx pgx.Tx, s *domain.Submission) error {
	historyJSON, err := json.Marshal(s.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO submissions (`+submissionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`,
		s.ID,
		s.DistributionID,
		s.Platform,
		s.ReleaseMode,
		s.Status,
		s.RolloutPercent,
		s.Version,
		nullString(s.BuildNumber),
		nullString(s.ArtifactRef),
		nullString(s.ReleaseNotes),
		nullString(s.StoreHandle),
		nullString(s.SubmittedBy),
		s.SubmittedAt,
		s.LiveAt,
		s.PausedAt,
		int64(s.PhasedPausedFor),
		historyJSON,
		nullUUID(s.SupersededBy),
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func scanDistribution(row pgx.Row) (*domain.Distribution, error) {
	var d domain.Distribution
	var platformsJSON []byte

	err := row.Scan(&d.ID, &d.ReleaseID, &platformsJSON, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan distribution: %w", err)
	}
	if err := json.Unmarshal(platformsJSON, &d.Platforms); err != nil {
		return nil, fmt.Errorf("unmarshal platforms: %w", err)
	}
	return &d, nil
}

func scanSubmission(row pgx.Row) (*domain.Submission, error) {
	var s domain.Submission
	var buildNumber, artifactRef, notes, handle, submittedBy *string
	var pausedFor int64
	var historyJSON []byte

	err := row.Scan(
		&s.ID,
		&s.DistributionID,
		&s.Platform,
		&s.ReleaseMode,
		&s.Status,
		&s.RolloutPercent,
		&s.Version,
		&buildNumber,
		&artifactRef,
		&notes,
		&handle,
		&submittedBy,
		&s.SubmittedAt,
		&s.LiveAt,
		&s.PausedAt,
		&pausedFor,
		&historyJSON,
		&s.SupersededBy,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan submission: %w", err)
	}

	s.BuildNumber = fromNull(buildNumber)
	s.ArtifactRef = fromNull(artifactRef)
	s.ReleaseNotes = fromNull(notes)
	s.StoreHandle = fromNull(handle)
	s.SubmittedBy = fromNull(submittedBy)
	s.PhasedPausedFor = time.Duration(pausedFor)

	if historyJSON != nil {
		if err := json.Unmarshal(historyJSON, &s.History); err != nil {
			return nil, fmt.Errorf("unmarshal history: %w", err)
		}
	}
	return &s, nil
}
