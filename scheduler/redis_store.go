package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ KeyStateStore = (*RedisStore)(nil)

var ErrTooManyConflicts = errors.New("scheduler: key state update kept conflicting")

const defaultRedisRetries = 10

// RedisStore keeps key state in Redis so schedulers in different processes
// share it. Updates use WATCH/MULTI and retry when another writer touched
// the key in between.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	retries int
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces the Redis keys. The default is "docqueue:schedule:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisStore) {
		r.prefix = prefix
	}
}

// WithStateTTL expires idle key state. Zero keeps it forever.
func WithStateTTL(ttl time.Duration) RedisOption {
	return func(r *RedisStore) {
		r.ttl = ttl
	}
}

// WithMaxRetries bounds optimistic retries per Update.
func WithMaxRetries(n int) RedisOption {
	return func(r *RedisStore) {
		if n > 0 {
			r.retries = n
		}
	}
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	r := &RedisStore{
		client:  client,
		prefix:  "docqueue:schedule:",
		retries: defaultRedisRetries,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisStore) Update(ctx context.Context, key string, fn func(previous time.Time, exists bool) (next time.Time, err error)) (time.Time, error) {
	if strings.TrimSpace(key) == "" {
		return time.Time{}, ErrEmptyJobKey
	}
	redisKey := r.prefix + key

	var next time.Time
	txf := func(tx *redis.Tx) error {
		previous, exists, err := r.load(ctx, tx, redisKey)
		if err != nil {
			return err
		}

		next, err = fn(previous, exists)
		if err != nil {
			return err
		}
		if next.IsZero() {
			return ErrZeroScheduledAt
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, strconv.FormatInt(next.UnixNano(), 10), r.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < r.retries; i++ {
		err := r.client.Watch(ctx, txf, redisKey)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return time.Time{}, err
	}
	return time.Time{}, fmt.Errorf("%w: %s", ErrTooManyConflicts, key)
}

func (r *RedisStore) load(ctx context.Context, tx *redis.Tx, redisKey string) (time.Time, bool, error) {
	raw, err := tx.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("scheduler: read key state: %w", err)
	}

	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("scheduler: corrupt key state %q: %w", redisKey, err)
	}
	return time.Unix(0, nanos), true, nil
}
