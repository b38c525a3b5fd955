package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/kintel/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix      = "kintel:"
	receiveTimeout = 5 * time.Second
	updateRetries  = 10
)

// RedisBroker is a reliable list queue. Receive moves an entry from the
// queue list into this consumer's processing list; Ack removes it there.
// Entries left in the processing list by a crashed consumer of the same
// name are requeued by Recover.
type RedisBroker struct {
	rdb        *redis.Client
	queue      string
	processing string
	log        *slog.Logger
}

// NewRedisBroker returns a broker on list kintel:queue:{name}. The consumer
// name keeps processing lists apart when several workers share a queue.
func NewRedisBroker(rdb *redis.Client, name, consumer string, log *slog.Logger) *RedisBroker {
	if log == nil {
		log = slog.Default()
	}
	queue := keyPrefix + "queue:" + name
	return &RedisBroker{
		rdb:        rdb,
		queue:      queue,
		processing: queue + ":processing:" + consumer,
		log:        log.With("queue", queue),
	}
}

func (b *RedisBroker) Publish(ctx context.Context, payload models.TaskPayload) error {
	data, err := encodePayload(payload)
	if err != nil {
		return err
	}
	if err := b.rdb.LPush(ctx, b.queue, data).Err(); err != nil {
		return fmt.Errorf("publish task %s: %w", payload.TaskID, err)
	}
	b.log.Debug("task published", "task_id", payload.TaskID)
	return nil
}

// Recover requeues everything in this consumer's processing list. Call it
// once before the first Receive.
func (b *RedisBroker) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := b.rdb.LMove(ctx, b.processing, b.queue, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("requeue stale entries: %w", err)
		}
		n++
	}
	if n > 0 {
		b.log.Warn("requeued unacknowledged tasks", "count", n)
	}
	return n, nil
}

func (b *RedisBroker) Receive(ctx context.Context) (*Delivery, error) {
	for {
		raw, err := b.rdb.BLMove(ctx, b.queue, b.processing, "RIGHT", "LEFT", receiveTimeout).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("receive: %w", err)
		}

		payload, err := decodePayload([]byte(raw))
		if err != nil {
			// drop it, it would never decode on redelivery either
			b.log.Error("discarding malformed queue entry", "error", err)
			_ = b.rdb.LRem(ctx, b.processing, 1, raw).Err()
			continue
		}
		return &Delivery{
			Payload: payload,
			ack: func(ctx context.Context) error {
				if err := b.rdb.LRem(ctx, b.processing, 1, raw).Err(); err != nil {
					return fmt.Errorf("ack task %s: %w", payload.TaskID, err)
				}
				return nil
			},
		}, nil
	}
}

// Close is a no-op; the shared client is closed by RedisBackend.Close.
func (b *RedisBroker) Close() error {
	return nil
}

// RedisBackend keeps task records as JSON strings at kintel:task:{id} with
// a TTL that is refreshed on every update.
type RedisBackend struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisBackend(rdb *redis.Client, ttl time.Duration) *RedisBackend {
	return &RedisBackend{rdb: rdb, ttl: ttl}
}

func taskKey(id string) string { return keyPrefix + "task:" + id }

func (r *RedisBackend) Create(ctx context.Context, rec models.TaskRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode task record: %w", err)
	}
	ok, err := r.rdb.SetNX(ctx, taskKey(rec.TaskID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("create task record %s: %w", rec.TaskID, err)
	}
	if !ok {
		return fmt.Errorf("task %s: %w", rec.TaskID, ErrExists)
	}
	return nil
}

func (r *RedisBackend) Get(ctx context.Context, taskID string) (models.TaskRecord, error) {
	return r.get(ctx, r.rdb, taskID)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisBackend) get(ctx context.Context, c getter, taskID string) (models.TaskRecord, error) {
	var rec models.TaskRecord
	data, err := c.Get(ctx, taskKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return rec, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return rec, fmt.Errorf("get task record %s: %w", taskID, err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decode task record %s: %w", taskID, err)
	}
	return rec, nil
}

// Update runs fn under WATCH and retries when another writer got in between.
func (r *RedisBackend) Update(ctx context.Context, taskID string, fn func(*models.TaskRecord) error) (models.TaskRecord, error) {
	key := taskKey(taskID)
	var out models.TaskRecord

	txf := func(tx *redis.Tx) error {
		rec, err := r.get(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if err := fn(&rec); err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode task record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			return nil
		})
		if err == nil {
			out = rec
		}
		return err
	}

	for range updateRetries {
		err := r.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return out, err
	}
	return out, fmt.Errorf("update task record %s: too much contention", taskID)
}

func (r *RedisBackend) Close() error {
	return r.rdb.Close()
}

// Ping checks the Redis connection.
func (r *RedisBackend) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}
