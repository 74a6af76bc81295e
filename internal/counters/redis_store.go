package counters

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/contextforge/contextforge/internal/idgen"
)

// windowAddScript adds member ARGV[4] scored ARGV[1] (epoch ms), prunes
// members below ARGV[2] (already prefixed with "(" for an exclusive bound),
// sets the ttl in milliseconds and returns the cardinality.
var windowAddScript = redis.NewScript(`
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return redis.call('ZCARD', KEYS[1])
`)

var windowCountScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
return redis.call('ZCARD', KEYS[1])
`)

var incrFloorScript = redis.NewScript(`
local v = redis.call('HINCRBY', KEYS[1], ARGV[1], ARGV[2])
local floor = tonumber(ARGV[3])
if v < floor then
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
  return floor
end
return v
`)

// RedisStore implements Store on Redis.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisStoreFromURL parses a redis:// URL and connects lazily.
func NewRedisStoreFromURL(rawURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts)), nil
}

func (r *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

func (r *RedisStore) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	return r.client.HIncrBy(ctx, key, field, delta).Result()
}

func (r *RedisStore) HIncrByFloor(ctx context.Context, key, field string, delta, floor int64) (int64, error) {
	return incrFloorScript.Run(ctx, r.client, []string{key}, field, delta, floor).Int64()
}

func (r *RedisStore) HSet(ctx context.Context, key, field string, value float64) error {
	return r.client.HSet(ctx, key, field, strconv.FormatFloat(value, 'f', -1, 64)).Err()
}

func (r *RedisStore) PushCapped(ctx context.Context, key, value string, capacity int64) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, value)
		pipe.LTrim(ctx, key, 0, capacity-1)
		return nil
	})
	return err
}

func (r *RedisStore) Range(ctx context.Context, key string, n int64) ([]string, error) {
	return r.client.LRange(ctx, key, 0, n-1).Result()
}

func (r *RedisStore) WindowAdd(ctx context.Context, key string, now time.Time, window, ttl time.Duration) (int64, error) {
	ms := now.UnixMilli()
	return windowAddScript.Run(ctx, r.client, []string{key},
		strconv.FormatInt(ms, 10),
		exclusiveCutoff(now, window),
		ttl.Milliseconds(),
		windowMember(ms),
	).Int64()
}

func (r *RedisStore) WindowCount(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	return windowCountScript.Run(ctx, r.client, []string{key}, exclusiveCutoff(now, window)).Int64()
}

func (r *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Expire(ctx, key, ttl).Err()
}

func (r *RedisStore) ExpireAt(ctx context.Context, key string, at time.Time) error {
	return r.client.ExpireAt(ctx, key, at).Err()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func exclusiveCutoff(now time.Time, window time.Duration) string {
	return "(" + strconv.FormatInt(now.Add(-window).UnixMilli(), 10)
}

// windowMember makes requests landing in the same millisecond distinct.
func windowMember(ms int64) string {
	return strconv.FormatInt(ms, 10) + "-" + idgen.Hex(4)
}

var _ Store = (*RedisStore)(nil)
