package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockNotAcquired means another request holds the tutor's lock.
	ErrLockNotAcquired = errors.New("tutor lock not acquired")
	// ErrLockUnavailable wraps transport failures while acquiring the lock.
	ErrLockUnavailable = errors.New("tutor lock unavailable")
)

// Locker serializes booking writes per tutor so overlap checks and inserts
// cannot interleave.
type Locker interface {
	WithTutorLock(ctx context.Context, tutorID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisTutorLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// lease identifies one holder of a tutor lock. Only the holder's token can
// release the key.
type lease struct {
	key   string
	token string
}

func NewRedisTutorLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisTutorLocker{
		client: client,
		ttl:    ttl,
	}
}

func lockKey(tutorID uuid.UUID) string {
	return "lock:tutor:" + tutorID.String()
}

// WithTutorLock runs fn while holding the tutor's lock. fn's context ends
// when the lease expires.
func (l *redisTutorLocker) WithTutorLock(ctx context.Context, tutorID uuid.UUID, fn func(ctx context.Context) error) error {
	held, err := l.acquire(ctx, tutorID)
	if err != nil {
		return err
	}
	// Release must run even when the request context is already cancelled.
	defer func() { _ = l.release(context.WithoutCancel(ctx), held) }()

	leaseCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(leaseCtx)
}

func (l *redisTutorLocker) acquire(ctx context.Context, tutorID uuid.UUID) (lease, error) {
	held := lease{key: lockKey(tutorID), token: uuid.NewString()}

	ok, err := l.client.SetNX(ctx, held.key, held.token, l.ttl).Result()
	if err != nil {
		return lease{}, fmt.Errorf("%w: %w", ErrLockUnavailable, err)
	}
	if !ok {
		return lease{}, ErrLockNotAcquired
	}
	return held, nil
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *redisTutorLocker) release(ctx context.Context, held lease) error {
	err := unlockScript.Run(ctx, l.client, []string{held.key}, held.token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release tutor lock: %w", err)
	}
	return nil
}
