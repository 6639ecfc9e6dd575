package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RequestLedger records which request ids have already started. A request
// id may reach CreateSession at most once.
type RequestLedger interface {
	Claim(ctx context.Context, requestID string) (bool, error)
}

// MemoryLedger is a process-local RequestLedger
type MemoryLedger struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

// NewMemoryLedger creates a ledger that forgets ids after ttl (0 keeps them forever)
func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	return &MemoryLedger{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (l *MemoryLedger) Claim(_ context.Context, requestID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if at, ok := l.seen[requestID]; ok {
		if l.ttl <= 0 || now.Sub(at) < l.ttl {
			return false, nil
		}
	}
	l.seen[requestID] = now
	return true, nil
}

// RedisLedger is a RequestLedger shared across API and worker processes
type RedisLedger struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisLedger(redisClient *redis.Client, ttl time.Duration) *RedisLedger {
	return &RedisLedger{redis: redisClient, ttl: ttl}
}

func (l *RedisLedger) Claim(ctx context.Context, requestID string) (bool, error) {
	ok, err := l.redis.SetNX(ctx, fmt.Sprintf("generation:request:%s", requestID), time.Now().Unix(), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim request id: %w", err)
	}
	return ok, nil
}
