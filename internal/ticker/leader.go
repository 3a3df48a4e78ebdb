package ticker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// tickLockKey — ключ advisory lock лидера тиков.
const tickLockKey int64 = 424243

// Leader решает, какой из процессов рассылает тики.
type Leader interface {
	// Acquire возвращает true, если этот процесс — лидер (берёт лидерство при возможности).
	Acquire(ctx context.Context) (bool, error)

	// Resign отдаёт лидерство.
	Resign(ctx context.Context)
}

// Solo — лидер без выборов для одиночного процесса и in-memory режима.
type Solo struct{}

func (Solo) Acquire(context.Context) (bool, error) { return true, nil }
func (Solo) Resign(context.Context)                {}

// PGLeader держит pg_try_advisory_lock на выделенном соединении.
// Блокировка сессионная: пока соединение живо, лидерство за этим процессом.
type PGLeader struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	mu   sync.Mutex
	conn *pgxpool.Conn
}

// NewPGLeader создаёт PGLeader.
func NewPGLeader(pool *pgxpool.Pool, logger *slog.Logger) *PGLeader {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGLeader{pool: pool, logger: logger}
}

// Acquire подтверждает лидерство или пытается его взять.
func (l *PGLeader) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		if err := l.conn.Ping(ctx); err == nil {
			return true, nil
		}
		// Сессия потеряна вместе с блокировкой.
		l.logger.Warn("tick leadership lost")
		l.conn.Release()
		l.conn = nil
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	var ok bool
	if err := conn.QueryRow(ctx, "select pg_try_advisory_lock($1)", tickLockKey).Scan(&ok); err != nil {
		conn.Release()
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return false, nil
	}

	l.conn = conn
	l.logger.Info("became tick leader")
	return true, nil
}

// Resign снимает advisory lock и возвращает соединение в пул.
func (l *PGLeader) Resign(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return
	}
	if _, err := l.conn.Exec(ctx, "select pg_advisory_unlock($1)", tickLockKey); err != nil {
		l.logger.Warn("failed to release advisory lock", "error", err)
	}
	l.conn.Release()
	l.conn = nil
}
