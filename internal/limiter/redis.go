package limiter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "webproxy:rl:"

// RedisStore keeps counters in Redis so multiple proxy instances share one
// view of the limits. Expiry is delegated to Redis TTLs, so Sweep is a
// no-op here.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	val, err := s.client.Get(ctx, redisKeyPrefix+key).Result()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	e, err := decodeEntry(val)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, e Entry) error {
	ttl := time.Until(e.ResetAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	return s.client.Set(ctx, redisKeyPrefix+key, encodeEntry(e), ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisKeyPrefix+key).Err()
}

func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func encodeEntry(e Entry) string {
	return strconv.Itoa(e.Count) + "|" + strconv.FormatInt(e.ResetAt.UnixMilli(), 10)
}

func decodeEntry(val string) (Entry, error) {
	count, resetMs, found := strings.Cut(val, "|")
	if !found {
		return Entry{}, fmt.Errorf("malformed rate limit entry %q", val)
	}
	c, err := strconv.Atoi(count)
	if err != nil {
		return Entry{}, err
	}
	ms, err := strconv.ParseInt(resetMs, 10, 64)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Count: c, ResetAt: time.UnixMilli(ms)}, nil
}
