// Package queue carries ingestion tasks from the API to workers and keeps
// their status records.
//
// A Broker delivers each published payload to one consumer at least once; a
// Delivery must be acked after it has been handled or it is redelivered. A
// Backend stores one models.TaskRecord per task with a retention window.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/kintel/internal/config"
	"github.com/raphaelgruber/kintel/internal/models"
	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound = errors.New("task record not found")
	ErrExists   = errors.New("task record already exists")
	ErrClosed   = errors.New("broker closed")
)

// Delivery is one received task payload.
type Delivery struct {
	Payload models.TaskPayload
	ack     func(context.Context) error
}

// Ack removes the delivery from the broker.
func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Broker is a durable task queue.
type Broker interface {
	Publish(ctx context.Context, payload models.TaskPayload) error
	// Receive blocks until a delivery is available or ctx is done.
	Receive(ctx context.Context) (*Delivery, error)
	Close() error
}

// Recoverer is implemented by brokers that can requeue deliveries a crashed
// consumer left unacknowledged.
type Recoverer interface {
	Recover(ctx context.Context) (int, error)
}

// Backend stores task records.
type Backend interface {
	// Create stores a new record; ErrExists when the id is taken.
	Create(ctx context.Context, rec models.TaskRecord) error
	// Get returns ErrNotFound for unknown or expired ids.
	Get(ctx context.Context, taskID string) (models.TaskRecord, error)
	// Update applies fn atomically to the stored record and returns the
	// result. An error from fn aborts the update.
	Update(ctx context.Context, taskID string, fn func(*models.TaskRecord) error) (models.TaskRecord, error)
	Close() error
}

// New builds the broker and result backend selected by cfg.Broker. Redis
// backs the results for both the redis and kafka brokers.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (Broker, Backend, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "queue", "broker", cfg.Broker)

	switch cfg.Broker {
	case config.BrokerMemory:
		return NewMemoryBroker(1024), NewMemoryBackend(cfg.ResultTTL), nil

	case config.BrokerRedis, config.BrokerKafka:
		rdb, err := dialRedis(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		backend := NewRedisBackend(rdb, cfg.ResultTTL)
		if cfg.Broker == config.BrokerKafka {
			return NewKafkaBroker(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup, log), backend, nil
		}
		broker := NewRedisBroker(rdb, cfg.QueueName, cfg.WorkerName, log)
		return broker, backend, nil

	default:
		return nil, nil, fmt.Errorf("unsupported broker: %s", cfg.Broker)
	}
}

func dialRedis(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	return rdb, nil
}

func encodePayload(p models.TaskPayload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

func decodePayload(data []byte) (models.TaskPayload, error) {
	var p models.TaskPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}
