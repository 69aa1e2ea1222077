package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultListKey is the Redis list shared by the API and the worker.
const DefaultListKey = "disclosure:jobs"

// ErrDecode marks a popped payload that could not be decoded. The payload
// is gone from the list, so the caller should count it as dropped.
var ErrDecode = errors.New("decode queue message")

// RedisQueue is a Redis-list-backed queue: LPUSH to enqueue, BRPOP to
// consume, so jobs are delivered oldest first.
type RedisQueue struct {
	rdb *redis.Client
	key string
}

// NewRedisQueue connects to Redis and verifies the connection.
func NewRedisQueue(ctx context.Context, addr, password, key string) (*RedisQueue, error) {
	if key == "" {
		key = DefaultListKey
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisQueue{rdb: rdb, key: key}, nil
}

// Send enqueues one message.
func (q *RedisQueue) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode queue message: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("redis lpush %s: %w", q.key, err)
	}
	return nil
}

// Receive blocks up to timeout for the next message. A decode failure is
// returned to the caller so the poisonous payload is not redelivered.
func (q *RedisQueue) Receive(ctx context.Context, timeout time.Duration) (Message, bool, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Message{}, false, nil
		}
		return Message{}, false, fmt.Errorf("redis brpop %s: %w", q.key, err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return Message{}, false, fmt.Errorf("redis brpop %s: unexpected reply length %d", q.key, len(res))
	}
	msg, err := DecodeMessage([]byte(res[1]))
	if err != nil {
		return Message{}, false, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return msg, true, nil
}

// Close releases the underlying connection pool.
func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}

var (
	_ Client   = (*RedisQueue)(nil)
	_ Consumer = (*RedisQueue)(nil)
)
