package counter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/DukeRupert/dentaistudy/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL keeps a row long enough to span the UTC day it was written on
// from any client timezone.
const DefaultTTL = 48 * time.Hour

const keyPrefix = "quota:anon:"

// consumeScript performs the read, lazy reset, compare and increment as one
// atomic step. Returns {allowed, used}.
var consumeScript = redis.NewScript(`
local used = 0
if redis.call('HGET', KEYS[1], 'date') == ARGV[1] then
  used = tonumber(redis.call('HGET', KEYS[1], 'used')) or 0
end
if used >= tonumber(ARGV[2]) then
  return {0, used}
end
used = used + 1
redis.call('HSET', KEYS[1], 'date', ARGV[1], 'used', used)
redis.call('EXPIRE', KEYS[1], ARGV[3])
return {1, used}
`)

// RedisStore keeps counters in a Redis hash per key.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// NewRedisClient parses a redis:// URL and checks the connection.
func NewRedisClient(ctx context.Context, url string, logger *slog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info("redis connected", "addr", opts.Addr, "db", opts.DB)
	return client, nil
}

// Key returns the Redis key for a subject key.
func Key(subject string) string {
	return keyPrefix + subject
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key, day string) (domain.QuotaCounter, error) {
	vals, err := s.client.HMGet(ctx, Key(key), "date", "used").Result()
	if err != nil {
		return domain.QuotaCounter{}, fmt.Errorf("read counter: %w", err)
	}

	c := domain.QuotaCounter{SubjectID: key}
	if date, ok := vals[0].(string); ok {
		c.Date = date
	}
	if used, ok := vals[1].(string); ok {
		c.Used, _ = strconv.Atoi(used)
	}
	return c.ForDay(day), nil
}

// ConsumeUpTo implements Store.
func (s *RedisStore) ConsumeUpTo(ctx context.Context, key, day string, limit int) (domain.QuotaCounter, bool, error) {
	ttl := int(s.ttl / time.Second)
	res, err := consumeScript.Run(ctx, s.client, []string{Key(key)}, day, limit, ttl).Int64Slice()
	if err != nil {
		return domain.QuotaCounter{}, false, fmt.Errorf("consume counter: %w", err)
	}
	if len(res) != 2 {
		return domain.QuotaCounter{}, false, fmt.Errorf("consume counter: unexpected reply %v", res)
	}

	c := domain.QuotaCounter{SubjectID: key, Date: day, Used: int(res[1])}
	return c, res[0] == 1, nil
}

var _ Store = (*RedisStore)(nil)
