package lockout

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sawyelin/ylstack-auth-sub000/internal/store"
)

const redisKeyPrefix = "ylstack:lockout:"

// RedisCounter keeps one sorted set per key, scored by failure time in milliseconds.
// The set expires one window after the latest failure.
type RedisCounter struct {
	rdb redis.UniversalClient
}

// NewRedisCounter returns a Counter backed by rdb.
func NewRedisCounter(rdb redis.UniversalClient) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

func (c *RedisCounter) RecordFailure(ctx context.Context, key string, at time.Time, window time.Duration) (int, error) {
	k := redisKeyPrefix + key
	cutoff := strconv.FormatInt(at.Add(-window).UnixMilli(), 10)
	var card *redis.IntCmd
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, k, "-inf", cutoff)
		p.ZAdd(ctx, k, redis.Z{Score: float64(at.UnixMilli()), Member: uuid.NewString()})
		card = p.ZCount(ctx, k, "("+cutoff, strconv.FormatInt(at.UnixMilli(), 10))
		p.PExpire(ctx, k, window)
		return nil
	})
	if err != nil {
		return 0, redisErr(err)
	}
	return int(card.Val()), nil
}

func (c *RedisCounter) Failures(ctx context.Context, key string, at time.Time, window time.Duration) (int, error) {
	n, err := c.rdb.ZCount(ctx, redisKeyPrefix+key,
		"("+strconv.FormatInt(at.Add(-window).UnixMilli(), 10),
		strconv.FormatInt(at.UnixMilli(), 10)).Result()
	if err != nil {
		return 0, redisErr(err)
	}
	return int(n), nil
}

func (c *RedisCounter) Reset(ctx context.Context, key string) error {
	return redisErr(c.rdb.Del(ctx, redisKeyPrefix+key).Err())
}

// redisErr maps connection-level failures to store.ErrUnavailable so callers retry them.
// Error replies from the server (redis.Error) pass through unchanged.
func redisErr(err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return nil
	}
	var reply redis.Error
	if errors.As(err, &reply) {
		return err
	}
	return errors.Join(store.ErrUnavailable, err)
}
