package coord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClaims backs the claim store with Redis so several coordinator
// replicas can share one partition run. SET NX gives the compare-and-swap
// the Pending -> Assigned move requires.
type RedisClaims struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

type RedisOption func(*redis.Options)

func WithPoolSize(n int) RedisOption {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithDialTimeout(d time.Duration) RedisOption {
	return func(o *redis.Options) { o.DialTimeout = d }
}

// NewRedisClaims connects and pings. Claims carry a TTL as a safety net:
// a claim that outlives its worker expires instead of wedging the chunk
// forever; the stall reclaimer normally fires first.
func NewRedisClaims(ctx context.Context, addr, prefix string, ttl time.Duration, opts ...RedisOption) (*RedisClaims, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     16,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if prefix == "" {
		prefix = "chunkplane"
	}
	return &RedisClaims{rdb: rdb, prefix: prefix, ttl: ttl}, nil
}

func (r *RedisClaims) key(chunkID string) string {
	return r.prefix + ":claim:" + chunkID
}

func (r *RedisClaims) Claim(ctx context.Context, chunkID, workerID string) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, r.key(chunkID), workerID, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim %q: %w", chunkID, err)
	}
	return ok, nil
}

func (r *RedisClaims) Release(ctx context.Context, chunkID string) error {
	if err := r.rdb.Del(ctx, r.key(chunkID)).Err(); err != nil {
		return fmt.Errorf("redis release %q: %w", chunkID, err)
	}
	return nil
}

func (r *RedisClaims) Owner(ctx context.Context, chunkID string) (string, bool, error) {
	owner, err := r.rdb.Get(ctx, r.key(chunkID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis owner %q: %w", chunkID, err)
	}
	return owner, true, nil
}

func (r *RedisClaims) Close() error {
	return r.rdb.Close()
}
