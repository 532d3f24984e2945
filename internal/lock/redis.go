package lock

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotAcquired is returned when a lease is still held by someone else.
var ErrNotAcquired = errors.New("lock not acquired")

// release deletes the key only if we still own the lease.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker takes a SET NX PX lease per key. The TTL bounds how long a
// crashed holder can block a computer.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisLocker(client redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.Named("redis-lock"),
	}
}

// Lock polls for the lease with capped backoff until ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	k := l.prefix + key
	token := uuid.NewString()

	policy := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(10*time.Millisecond),
		backoff.WithMaxInterval(200*time.Millisecond),
		backoff.WithMaxElapsedTime(0),
	)

	err := backoff.Retry(func() error {
		ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			return backoff.Permanent(errors.Wrapf(err, "acquire %s", k))
		}
		if !ok {
			return ErrNotAcquired
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, err
	}

	return func() {
		// The caller's ctx may already be cancelled; release on a fresh one.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{k}, token).Err(); err != nil {
			l.logger.Warn("failed to release lock", zap.String("key", k), zap.Error(err))
		}
	}, nil
}
