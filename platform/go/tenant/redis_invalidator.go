package tenant

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultInvalidationChannel is the pub/sub channel used between API replicas.
const DefaultInvalidationChannel = "clinic:tenant-cache:invalidate"

// RedisInvalidator broadcasts cache invalidations over Redis pub/sub. Only cache keys
// travel over the wire; tenant credentials stay in process memory.
type RedisInvalidator struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisInvalidator panics on missing dependencies.
func NewRedisInvalidator(client *redis.Client, channel string, logger *zap.Logger) *RedisInvalidator {
	if client == nil {
		panic("redis invalidator requires client")
	}
	if logger == nil {
		panic("redis invalidator requires logger")
	}
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	return &RedisInvalidator{client: client, channel: channel, logger: logger}
}

func (r *RedisInvalidator) Publish(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Publish(ctx, r.channel, strings.Join(keys, "\n")).Err()
}

// Listen applies invalidations received on the channel to cache until ctx is done.
// ready, when non-nil, is closed once the subscription is confirmed.
func (r *RedisInvalidator) Listen(ctx context.Context, cache *MemoryCache, ready chan<- struct{}) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			keys := strings.Split(msg.Payload, "\n")
			cache.Delete(keys...)
			r.logger.Debug("tenant cache invalidated", zap.Strings("keys", keys))
		}
	}
}

var _ Invalidator = (*RedisInvalidator)(nil)
