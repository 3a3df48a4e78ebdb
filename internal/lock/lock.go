// Package lock — взаимное исключение на уровне релиза.
//
// Каждый тик и каждая команда над релизом выполняются под ключом
// shipyard:release:<id>. В кластере используется Redis (redislock),
// в одиночном процессе и в тестах — Local.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotAcquired — блокировку не удалось взять за отведённое время.
	ErrNotAcquired = errors.New("lock not acquired")

	// ErrLeaseLost — блокировка истекла или перехвачена до Release.
	ErrLeaseLost = errors.New("lock lease lost")
)

// Lease — взятая блокировка.
type Lease interface {
	Release(ctx context.Context) error

	// Lost закрывается, если блокировка потеряна до Release. nil — потерять нельзя.
	Lost() <-chan struct{}
}

// Locker выдаёт блокировки по ключу.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// ReleaseKey возвращает ключ блокировки релиза.
func ReleaseKey(id uuid.UUID) string {
	return "shipyard:release:" + id.String()
}

// WithLock выполняет fn под блокировкой key.
// Потеря блокировки отменяет ctx функции с причиной ErrLeaseLost.
func WithLock(ctx context.Context, l Locker, key string, fn func(ctx context.Context) error) error {
	lease, err := l.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer lease.Release(context.WithoutCancel(ctx))

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if lost := lease.Lost(); lost != nil {
		go func() {
			select {
			case <-lost:
				cancel(fmt.Errorf("%w: %s", ErrLeaseLost, key))
			case <-ctx.Done():
			}
		}()
	}

	err = fn(ctx)
	if cause := context.Cause(ctx); err != nil && errors.Is(cause, ErrLeaseLost) {
		return fmt.Errorf("%w: %w", cause, err)
	}
	return err
}

// --- Redis ---

// RedisConfig — настройки RedisLocker.
type RedisConfig struct {
	// TTL — время жизни блокировки (default: 2m). Пока блокировка взята,
	// она продлевается каждые TTL/3.
	TTL time.Duration

	// Wait — сколько ждать освобождения занятой блокировки (default: 5s).
	Wait time.Duration
}

// RedisLocker — распределённая блокировка на redislock.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisLocker создаёт RedisLocker поверх клиента go-redis.
func NewRedisLocker(rdb *redis.Client, cfg RedisConfig) *RedisLocker {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	wait := cfg.Wait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisLocker{client: redislock.New(rdb), ttl: ttl, wait: wait}
}

// Acquire берёт блокировку, повторяя попытки до истечения Wait.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	lk, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(100 * time.Millisecond),
	})
	if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock: %w", err)
	}
	return newKeptLease(lk, l.ttl), nil
}

// refresher — то, что умеет *redislock.Lock.
type refresher interface {
	Refresh(ctx context.Context, ttl time.Duration, opt *redislock.Options) error
	Release(ctx context.Context) error
}

// keptLease продлевает блокировку в фоне до Release.
type keptLease struct {
	lock refresher
	ttl  time.Duration

	stop     chan struct{}
	lost     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newKeptLease(lk refresher, ttl time.Duration) *keptLease {
	k := &keptLease{
		lock: lk,
		ttl:  ttl,
		stop: make(chan struct{}),
		lost: make(chan struct{}),
		done: make(chan struct{}),
	}
	go k.keep()
	return k
}

func (k *keptLease) keep() {
	defer close(k.done)

	interval := k.ttl / 3
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-k.stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := k.lock.Refresh(ctx, k.ttl, nil)
			cancel()
			if err != nil {
				close(k.lost)
				return
			}
		}
	}
}

func (k *keptLease) Lost() <-chan struct{} { return k.lost }

func (k *keptLease) Release(ctx context.Context) error {
	k.stopOnce.Do(func() { close(k.stop) })
	<-k.done

	err := k.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}

// --- Local ---

// Local — блокировка внутри одного процесса.
type Local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocal создаёт Local.
func NewLocal() *Local {
	return &Local{slots: make(map[string]chan struct{})}
}

// Acquire ждёт освобождения ключа или отмены ctx.
func (l *Local) Acquire(ctx context.Context, key string) (Lease, error) {
	l.mu.Lock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return localLease{ch}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
	}
}

type localLease struct{ ch chan struct{} }

func (l localLease) Lost() <-chan struct{} { return nil }

func (l localLease) Release(context.Context) error {
	select {
	case <-l.ch:
	default:
	}
	return nil
}
