package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/orderflow/internal/domain/order"
)

const keyLock = "lock:%s:%s"

// Compare-and-delete so that an expired lease re-acquired by another
// replica is never released by the previous holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ order.Locker = (*Redis)(nil)

// RedisConfig tunes lease handling.
type RedisConfig struct {
	// TTL bounds how long a crashed holder can block an order.
	TTL time.Duration
	// Wait is how long Lock polls for a held lease before giving up.
	Wait time.Duration
	// Retry is the polling interval while waiting.
	Retry time.Duration
	// Namespace separates key spaces sharing one Redis, "order" by default.
	Namespace string
}

// Redis is a lease-based lock shared between replicas.
type Redis struct {
	client redis.UniversalClient
	cfg    RedisConfig
	lg     *zap.Logger
}

// NewRedis returns a Redis locker. Zero config values get defaults.
func NewRedis(client redis.UniversalClient, cfg RedisConfig, lg *zap.Logger) *Redis {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 2 * time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 50 * time.Millisecond
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "order"
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Redis{client: client, cfg: cfg, lg: lg}
}

// Lock acquires a lease on id. It returns *order.ConflictError when the
// lease is still held after the configured wait or ctx ends first.
func (r *Redis) Lock(ctx context.Context, id string) (func(), error) {
	key := fmt.Sprintf(keyLock, r.cfg.Namespace, id)
	token := uuid.NewString()
	deadline := time.Now().Add(r.cfg.Wait)

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.cfg.TTL).Result()
		if err != nil {
			return nil, &order.DependencyError{Dependency: "redis", Err: err}
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, &order.ConflictError{OrderID: id}
		}

		t := time.NewTimer(r.cfg.Retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, &order.ConflictError{OrderID: id, Err: ctx.Err()}
		case <-t.C:
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
			r.lg.Warn("Release lock",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}, nil
}
