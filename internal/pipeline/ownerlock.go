package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mindtune/api/internal/model"
)

// OwnerLock serializes generations per owner
type OwnerLock interface {
	Acquire(ctx context.Context, ownerID string) (release func(), acquired bool, err error)
}

// releaseScript deletes the lock only if this holder still owns it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisOwnerLock is an advisory SETNX lock keyed by owner
type RedisOwnerLock struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisOwnerLock(redisClient *redis.Client, ttl time.Duration) *RedisOwnerLock {
	return &RedisOwnerLock{redis: redisClient, ttl: ttl}
}

func (l *RedisOwnerLock) Acquire(ctx context.Context, ownerID string) (func(), bool, error) {
	key := fmt.Sprintf("generation:owner:%s", ownerID)
	token := uuid.New().String()

	ok, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire owner lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		if err := releaseScript.Run(context.Background(), l.redis, []string{key}, token).Err(); err != nil {
			log.Printf("[pipeline] failed to release owner lock %s: %v", key, err)
		}
	}
	return release, true, nil
}

// LockedOrchestrator rejects a submission while another one for the same
// owner is in flight.
type LockedOrchestrator struct {
	next Submitter
	lock OwnerLock
}

func NewLockedOrchestrator(next Submitter, lock OwnerLock) *LockedOrchestrator {
	return &LockedOrchestrator{next: next, lock: lock}
}

func (o *LockedOrchestrator) Submit(ctx context.Context, req *model.GenerationRequest) (*model.Track, error) {
	if req == nil {
		return nil, invalidRequest("request is required", nil)
	}

	release, acquired, err := o.lock.Acquire(ctx, req.OwnerID)
	if err != nil {
		return nil, newError(model.StageValidating, model.ErrorUnavailable, err, "owner lock unavailable")
	}
	if !acquired {
		return nil, newError(model.StageValidating, model.ErrorUnavailable, nil,
			"another generation for this owner is in progress")
	}
	defer release()

	return o.next.Submit(ctx, req)
}
