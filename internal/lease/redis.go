package lease

import (
	"context"
	"time"

	"jobfeed-engine/internal/errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "jobfeed:lease:"

// releaseScript deletes the key only while it still holds our token, so an
// expired lease that another instance re-acquired is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Redis struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedis(addr, password string, db int, logger *zap.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Redis{client: client, logger: logger}
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.Configuration("redis ping", err)
	}
	return nil
}

func (r *Redis) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Release, bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, keyPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, false, errors.TransientFetch("redis lease "+key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func(ctx context.Context) {
		if err := releaseScript.Run(ctx, r.client, []string{keyPrefix + key}, token).Err(); err != nil && err != redis.Nil {
			r.logger.Warn("release lease", zap.String("key", key), zap.Error(err))
		}
	}, true, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
