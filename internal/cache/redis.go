package cache

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/notenetra/creditscore/internal/domain"
)

// RedisCache is the shared score cache of the pro tier and L2 of the
// two-phase cache, so a merchant scored on one replica is a hit on all.
// Each merchant has an index set of its score keys; the set's TTL is
// pushed forward on every write so it outlives the keys it lists.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects with cfg's Redis settings and pings once.
func NewRedisCache(cfg domain.CacheConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       cmp.Or(cfg.RedisAddr, "localhost:6379"),
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		ClientName: "creditscore",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", client.Options().Addr, err)
	}
	return &RedisCache{client: client}, nil
}

func redisScoreKey(tenantID, merchantID, fingerprint string) string {
	return "creditscore:" + tenantID + ":" + ScoreKey(merchantID, fingerprint)
}

func redisIndexKey(tenantID, merchantID string) string {
	return "creditscore:" + tenantID + ":scores:" + merchantID
}

// GetScore reads a score by fingerprint.
func (c *RedisCache) GetScore(ctx context.Context, tenantID string, merchantID string, fingerprint string) (*domain.ScoreResult, error) {
	if tenantID == "" {
		return nil, errTenantRequired
	}

	data, err := c.client.Get(ctx, redisScoreKey(tenantID, merchantID, fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeScore(data)
}

// SetScore writes the score and indexes it under the merchant in one
// MULTI/EXEC.
func (c *RedisCache) SetScore(ctx context.Context, tenantID string, merchantID string, result *domain.ScoreResult, ttl time.Duration) error {
	if err := checkScore(tenantID, result); err != nil {
		return err
	}
	data, err := encodeScore(result)
	if err != nil {
		return err
	}

	key := redisScoreKey(tenantID, merchantID, result.LedgerFingerprint)
	index := redisIndexKey(tenantID, merchantID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, ttl)
		pipe.SAdd(ctx, index, key)
		if ttl > 0 {
			pipe.ExpireGT(ctx, index, ttl)
			pipe.ExpireNX(ctx, index, ttl)
		} else {
			pipe.Persist(ctx, index)
		}
		return nil
	})
	return err
}

// ForgetMerchant deletes the merchant's indexed scores and the index.
// Keys that already expired are not counted.
func (c *RedisCache) ForgetMerchant(ctx context.Context, tenantID string, merchantID string) (int, error) {
	if tenantID == "" {
		return 0, errTenantRequired
	}

	index := redisIndexKey(tenantID, merchantID)
	keys, err := c.client.SMembers(ctx, index).Result()
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	var removed *redis.IntCmd
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.Del(ctx, keys...)
		pipe.SRem(ctx, index, toAny(keys)...)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(removed.Val()), nil
}

func toAny(keys []string) []any {
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
