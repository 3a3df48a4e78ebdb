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

// CycleRepo — репозиторий для работы с regression_cycles.
type CycleRepo struct {
	pool *pgxpool.Pool
}

// NewCycleRepo создаёт новый CycleRepo.
func NewCycleRepo(pool *pgxpool.Pool) *CycleRepo {
	return &CycleRepo{pool: pool}
}

const cycleColumns = `id, release_id, slot_index, tag, status, flags, created_at, completed_at`

// Create создаёт цикл регрессии.
func (r *CycleRepo) Create(ctx context.Context, c *domain.RegressionCycle) error {
	flagsJSON, err := json.Marshal(c.Flags)
	if err != nil {
		return fmt.Errorf("marshal flags: %w", err)
	}

	query := `
		INSERT INTO regression_cycles (` + cycleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.pool.Exec(ctx, query,
		c.ID,
		c.ReleaseID,
		c.SlotIndex,
		c.Tag,
		c.Status,
		flagsJSON,
		c.CreatedAt,
		c.CompletedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: cycle for slot %d", ErrAlreadyExists, c.SlotIndex)
	}
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

// GetByID возвращает цикл по ID.
func (r *CycleRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.RegressionCycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM regression_cycles WHERE id = $1`
	return scanCycle(r.pool.QueryRow(ctx, query, id))
}

// ListByRelease возвращает циклы релиза в порядке создания.
func (r *CycleRepo) ListByRelease(ctx context.Context, releaseID uuid.UUID) ([]domain.RegressionCycle, error) {
	query := `
		SELECT ` + cycleColumns + `
		FROM regression_cycles
		WHERE release_id = $1
		ORDER BY created_at ASC, slot_index ASC
	`
	rows, err := r.pool.Query(ctx, query, releaseID)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer rows.Close()

	var cycles []domain.RegressionCycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, *c)
	}
	return cycles, rows.Err()
}

// Update обновляет статус цикла.
// Условие на статус не даёт переоткрыть завершённый цикл.
func (r *CycleRepo) Update(ctx context.Context, c *domain.RegressionCycle) error {
	query := `
		UPDATE regression_cycles
		SET status = $2, completed_at = $3
		WHERE id = $1 AND status NOT IN ('DONE', 'ABANDONED')
	`
	result, err := r.pool.Exec(ctx, query, c.ID, c.Status, c.CompletedAt)
	if err != nil {
		return fmt.Errorf("update cycle: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: cycle %s is closed or missing", domain.ErrConflict, c.ID)
	}
	return nil
}

func scanCycle(row pgx.Row) (*domain.RegressionCycle, error) {
	var c domain.RegressionCycle
	var flagsJSON []byte

	err := row.Scan(
		&c.ID,
		&c.ReleaseID,
		&c.SlotIndex,
		&c.Tag,
		&c.Status,
		&flagsJSON,
		&c.CreatedAt,
		&c.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan cycle: %w", err)
	}
	if flagsJSON != nil {
		if err := json.Unmarshal(flagsJSON, &c.Flags); err != nil {
			return nil, fmt.Errorf("unmarshal flags: %w", err)
		}
	}
	return &c, nil
}
