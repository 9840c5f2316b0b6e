package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/manatap/triage/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const redisAdvicePrefix = "triage:advice:"

// hitScript bumps hit_count only while the row still exists, so a row that
// expired after it was read is not recreated without a TTL. It returns -1
// when the row is gone.
var hitScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
return redis.call("HINCRBY", KEYS[1], "hit_count", 1)
`)

// RedisAdviceStore keeps advice rows as Redis hashes that expire natively at
// the row's expiry time.
type RedisAdviceStore struct {
	rdb *redis.Client
}

// NewRedisAdviceStore wraps an existing client.
func NewRedisAdviceStore(rdb *redis.Client) *RedisAdviceStore {
	return &RedisAdviceStore{rdb: rdb}
}

// ConnectRedis parses url and pings the server with exponential backoff until
// timeout elapses.
func ConnectRedis(ctx context.Context, url string, timeout time.Duration) (*RedisAdviceStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	rdb := redis.NewClient(opts)

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 250 * time.Millisecond
	expo.MaxInterval = 5 * time.Second
	expo.MaxElapsedTime = timeout
	if expo.MaxElapsedTime <= 0 {
		expo.MaxElapsedTime = 30 * time.Second
	}
	op := func() error {
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", opts.Addr).Msg("Redis not reachable yet, retrying")
			return err
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	log.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Redis advice store initialized")
	return NewRedisAdviceStore(rdb), nil
}

func (s *RedisAdviceStore) GetAdvice(ctx context.Context, key string) (*models.AdviceCacheEntry, error) {
	rk := redisAdvicePrefix + key
	fields, err := s.rdb.HGetAll(ctx, rk).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get advice: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	e, err := decodeAdviceHash(key, fields)
	if err != nil {
		return nil, err
	}
	if e.Live(time.Now()) {
		n, err := hitScript.Run(ctx, s.rdb, []string{rk}).Int64()
		if err != nil {
			return nil, fmt.Errorf("redis advice hit: %w", err)
		}
		if n < 0 {
			return nil, ErrNotFound
		}
		e.HitCount = n
	}
	return e, nil
}

func (s *RedisAdviceStore) UpsertAdvice(ctx context.Context, entry *models.AdviceCacheEntry) error {
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	rk := redisAdvicePrefix + entry.CacheKey

	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, rk,
			"response_json", string(entry.ResponseJSON),
			"model_used", entry.ModelUsed,
			"created_at", created.UnixMilli(),
			"expires_at", entry.ExpiresAt.UnixMilli(),
		)
		p.HSetNX(ctx, rk, "hit_count", 0)
		p.PExpireAt(ctx, rk, entry.ExpiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis upsert advice: %w", err)
	}
	return nil
}

// PurgeExpiredAdvice is a no-op: Redis evicts rows at their expiry.
func (s *RedisAdviceStore) PurgeExpiredAdvice(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

func (s *RedisAdviceStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisAdviceStore) Close() error {
	return s.rdb.Close()
}

func decodeAdviceHash(key string, f map[string]string) (*models.AdviceCacheEntry, error) {
	created, err := strconv.ParseInt(f["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis advice %s: bad created_at: %w", key, err)
	}
	expires, err := strconv.ParseInt(f["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis advice %s: bad expires_at: %w", key, err)
	}
	hits, _ := strconv.ParseInt(f["hit_count"], 10, 64)

	return &models.AdviceCacheEntry{
		CacheKey:     key,
		ResponseJSON: json.RawMessage(f["response_json"]),
		ModelUsed:    f["model_used"],
		CreatedAt:    time.UnixMilli(created),
		ExpiresAt:    time.UnixMilli(expires),
		HitCount:     hits,
	}, nil
}
