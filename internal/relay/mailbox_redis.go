package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"chatlink/internal/config"
	"chatlink/pkg/interfaces"
	"chatlink/pkg/types"
)

// RedisMailbox keeps one Redis list per recipient: LPUSH on the head,
// RPOP/BRPOP from the tail, LTRIM to the queue limit.
type RedisMailbox struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	limit  int
}

var _ interfaces.Mailbox = (*RedisMailbox)(nil)

// NewRedisMailbox connects to Redis and verifies the connection.
func NewRedisMailbox(ctx context.Context, cfg *config.RedisConfig, limit int) (*RedisMailbox, error) {
	if cfg == nil {
		cfg = config.DefaultConfig().Redis
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "connect to redis at %s", cfg.Addr)
	}
	return NewRedisMailboxWithClient(client, cfg.KeyPrefix, cfg.TTL, limit), nil
}

// NewRedisMailboxWithClient wraps an existing client.
func NewRedisMailboxWithClient(client *redis.Client, prefix string, ttl time.Duration, limit int) *RedisMailbox {
	if limit <= 0 {
		limit = 1000
	}
	return &RedisMailbox{client: client, prefix: prefix, ttl: ttl, limit: limit}
}

func (r *RedisMailbox) key(recipient types.ClientID) string {
	return r.prefix + recipient.String()
}

func (r *RedisMailbox) Push(ctx context.Context, recipient types.ClientID, msg types.WireMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode message")
	}

	key := r.key(recipient)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(r.limit-1))
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "push to %s", key)
	}
	return nil
}

func (r *RedisMailbox) Pop(ctx context.Context, recipient types.ClientID) (types.WireMessage, bool, error) {
	data, err := r.client.RPop(ctx, r.key(recipient)).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.WireMessage{}, false, nil
	}
	if err != nil {
		return types.WireMessage{}, false, errors.Wrap(err, "pop message")
	}
	return decodeWire(data)
}

// Wait blocks with BRPOP. Redis counts the timeout in whole seconds and
// treats zero as forever, so shorter timeouts are raised to one second.
func (r *RedisMailbox) Wait(ctx context.Context, recipient types.ClientID, timeout time.Duration) (types.WireMessage, bool, error) {
	if timeout < time.Second {
		timeout = time.Second
	}
	result, err := r.client.BRPop(ctx, timeout, r.key(recipient)).Result()
	if errors.Is(err, redis.Nil) {
		return types.WireMessage{}, false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return types.WireMessage{}, false, ctx.Err()
		}
		return types.WireMessage{}, false, errors.Wrap(err, "wait for message")
	}
	// BRPOP answers [key, value].
	if len(result) != 2 {
		return types.WireMessage{}, false, errors.Errorf("unexpected BRPOP reply of %d elements", len(result))
	}
	return decodeWire([]byte(result[1]))
}

// Len reports how many messages are queued for recipient.
func (r *RedisMailbox) Len(ctx context.Context, recipient types.ClientID) (int64, error) {
	return r.client.LLen(ctx, r.key(recipient)).Result()
}

func (r *RedisMailbox) HealthCheck(ctx context.Context) error {
	return errors.Wrap(r.client.Ping(ctx).Err(), "redis ping")
}

func (r *RedisMailbox) Close() error {
	return r.client.Close()
}

func decodeWire(data []byte) (types.WireMessage, bool, error) {
	var msg types.WireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return types.WireMessage{}, false, errors.Wrap(err, "decode queued message")
	}
	return msg, true, nil
}
