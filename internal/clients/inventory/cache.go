package inventory

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// Cache maps SKUs to inventory item IDs.
type Cache interface {
	Get(ctx context.Context, sku string) (id int64, ok bool, err error)
	Set(ctx context.Context, sku string, id int64) error
	Delete(ctx context.Context, sku string) error
}

// NopCache never hits.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (int64, bool, error) { return 0, false, nil }
func (NopCache) Set(context.Context, string, int64) error         { return nil }
func (NopCache) Delete(context.Context, string) error             { return nil }

const keySKU = "inventory:sku:%s"

// RedisCache stores SKU to ID mappings in Redis with a TTL.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCache returns a RedisCache. A non-positive ttl defaults to ten
// minutes.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, sku string) (int64, bool, error) {
	v, err := c.client.Get(ctx, fmt.Sprintf(keySKU, sku)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "get sku")
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, errors.Wrapf(err, "parse cached id %q", v)
	}
	return id, true, nil
}

func (c *RedisCache) Set(ctx context.Context, sku string, id int64) error {
	return c.client.Set(ctx, fmt.Sprintf(keySKU, sku), strconv.FormatInt(id, 10), c.ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, sku string) error {
	return c.client.Del(ctx, fmt.Sprintf(keySKU, sku)).Err()
}
