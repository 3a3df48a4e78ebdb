package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Shipyard/internal/domain"
)

// ReleaseRepo — репозиторий для работы с releases.
type ReleaseRepo struct {
	pool *pgxpool.Pool
}

// NewReleaseRepo создаёт новый ReleaseRepo.
func NewReleaseRepo(pool *pgxpool.Pool) *ReleaseRepo {
	return &ReleaseRepo{pool: pool}
}

const releaseColumns = `
	id, code, tenant_id, status, type, branch, base_branch,
	kickoff_date, target_release_date, released_at, platforms, created_at, updated_at`

// Create создаёт новый release.
func (r *ReleaseRepo) Create(ctx context.Context, rel *domain.Release) error {
	platformsJSON, err := json.Marshal(rel.Platforms)
	if err != nil {
		return fmt.Errorf("marshal platforms: %w", err)
	}

	query := `
		INSERT INTO releases (` + releaseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.pool.Exec(ctx, query,
		rel.ID,
		rel.Code,
		rel.TenantID,
		rel.Status,
		rel.Type,
		rel.Branch,
		rel.BaseBranch,
		rel.KickoffDate,
		rel.TargetReleaseDate,
		rel.ReleasedAt,
		platformsJSON,
		rel.CreatedAt,
		rel.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: release %s", ErrAlreadyExists, rel.Code)
	}
	if err != nil {
		return fmt.Errorf("insert release: %w", err)
	}
	return nil
}

// GetByID возвращает release по ID.
func (r *ReleaseRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Release, error) {
	query := `SELECT ` + releaseColumns + ` FROM releases WHERE id = $1`
	return scanRelease(r.pool.QueryRow(ctx, query, id))
}

// Update обновляет изменяемые поля release.
func (r *ReleaseRepo) Update(ctx context.Context, rel *domain.Release) error {
	platformsJSON, err := json.Marshal(rel.Platforms)
	if err != nil {
		return fmt.Errorf("marshal platforms: %w", err)
	}

	query := `
		UPDATE releases
		SET status = $2, branch = $3, released_at = $4, platforms = $5, updated_at = $6
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		rel.ID,
		rel.Status,
		rel.Branch,
		rel.ReleasedAt,
		platformsJSON,
		rel.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update release: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByStatus возвращает releases с фильтром по статусу.
// Пагинация keyset по (created_at, id): курсор after исключается из выборки.
func (r *ReleaseRepo) ListByStatus(ctx context.Context, status domain.ReleaseStatus, after *domain.ReleaseCursor, limit int) ([]domain.Release, error) {
	if limit <= 0 {
		limit = 100
	}
	var afterAt, afterID any
	if after != nil {
		afterAt, afterID = after.CreatedAt, after.ID
	}
	query := `
		SELECT ` + releaseColumns + `
		FROM releases
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2::timestamptz IS NULL OR (created_at, id) > ($2::timestamptz, $3::uuid))
		ORDER BY created_at ASC, id ASC
		LIMIT $4
	`
	rows, err := r.pool.Query(ctx, query, nullString(string(status)), afterAt, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	defer rows.Close()

	var releases []domain.Release
	for rows.Next() {
		rel, err := scanRelease(rows)
		if err != nil {
			return nil, err
		}
		releases = append(releases, *rel)
	}
	return releases, rows.Err()
}

// scanRelease сканирует одну строку в Release.
// pgx.Rows реализует pgx.Row, поэтому функция годится и для QueryRow, и для Query.
func scanRelease(row pgx.Row) (*domain.Release, error) {
	var rel domain.Release
	var platformsJSON []byte

	err := row.Scan(
		&rel.ID,
		&rel.Code,
		&rel.TenantID,
		&rel.Status,
		&rel.Type,
		&rel.Branch,
		&rel.BaseBranch,
		&rel.KickoffDate,
		&rel.TargetReleaseDate,
		&rel.ReleasedAt,
		&platformsJSON,
		&rel.CreatedAt,
		&rel.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan release: %w", err)
	}

	if platformsJSON != nil {
		if err := json.Unmarshal(platformsJSON, &rel.Platforms); err != nil {
			return nil, fmt.Errorf("unmarshal platforms: %w", err)
		}
	}
	return &rel, nil
}

// --- Helpers ---

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// fromNull разворачивает nullable строку.
func fromNull(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// nullUUID возвращает nil для пустого UUID.
func nullUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id
}

// isUniqueViolation проверяет ошибку нарушения уникальности (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "duplicate key")
}
