// Package idempotency records which derived side effects have already been
// applied so that redelivered trigger events do not apply them twice.
package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ledger claims keys for a limited time. Claim returns false when the key is
// already held; Release gives it back after a failed write so a redelivery
// can try again.
type Ledger interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisLedger stores claims as Redis keys created with SET NX.
type RedisLedger struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisLedger returns a ledger namespacing its keys under prefix.
func NewRedisLedger(rdb redis.UniversalClient, prefix string) *RedisLedger {
	return &RedisLedger{rdb: rdb, prefix: prefix}
}

func (l *RedisLedger) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, l.prefix+key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
}

func (l *RedisLedger) Release(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, l.prefix+key).Err()
}

// MemoryLedger is a process-local Ledger for single-instance runs and tests.
type MemoryLedger struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{keys: make(map[string]time.Time), now: time.Now}
}

func (l *MemoryLedger) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if exp, ok := l.keys[key]; ok && (exp.IsZero() || now.Before(exp)) {
		return false, nil
	}
	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	l.keys[key] = exp
	return true, nil
}

func (l *MemoryLedger) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.keys, key)
	return nil
}
