package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/kintel/internal/models"
	"github.com/segmentio/kafka-go"
)

// KafkaBroker publishes payloads keyed by task id and consumes them through
// a consumer group. Deliveries from one partition may be acked out of order;
// only the highest offset below which every message is acked gets
// committed, so a task whose worker dies before acking is fetched again by
// the next group member.
type KafkaBroker struct {
	writer  *kafka.Writer
	reader  *kafka.Reader
	offsets *offsetTracker
	log     *slog.Logger

	commitMu sync.Mutex
	commit   func(ctx context.Context, msgs ...kafka.Message) error
}

func NewKafkaBroker(brokers []string, topic, group string, log *slog.Logger) *KafkaBroker {
	if log == nil {
		log = slog.Default()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     group,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	return &KafkaBroker{
		writer:  w,
		reader:  r,
		offsets: newOffsetTracker(),
		log:     log.With("topic", topic, "group", group),
		commit:  r.CommitMessages,
	}
}

func (k *KafkaBroker) Publish(ctx context.Context, payload models.TaskPayload) error {
	data, err := encodePayload(payload)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(payload.TaskID), Value: data}); err != nil {
		k.log.Error("failed to publish task", "task_id", payload.TaskID, "error", err)
		return fmt.Errorf("publish task %s: %w", payload.TaskID, err)
	}
	k.log.Debug("task published", "task_id", payload.TaskID, "value_size", len(data))
	return nil
}

func (k *KafkaBroker) Receive(ctx context.Context) (*Delivery, error) {
	for {
		msg, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("fetch message: %w", err)
		}
		k.log.Debug("message received", "partition", msg.Partition, "offset", msg.Offset, "key", string(msg.Key))
		entry := k.offsets.fetched(msg)

		payload, err := decodePayload(msg.Value)
		if err != nil {
			k.log.Error("discarding malformed message", "partition", msg.Partition, "offset", msg.Offset, "error", err)
			if err := k.ack(ctx, entry); err != nil {
				k.log.Warn("failed to commit discarded message", "error", err)
			}
			continue
		}
		return &Delivery{
			Payload: payload,
			ack: func(ctx context.Context) error {
				return k.ack(ctx, entry)
			},
		}, nil
	}
}

// ack marks entry finished and commits the partition's contiguous prefix of
// finished messages, if it grew.
func (k *KafkaBroker) ack(ctx context.Context, entry *trackedMessage) error {
	k.commitMu.Lock()
	defer k.commitMu.Unlock()
	msg, ok := k.offsets.complete(entry)
	if !ok {
		k.log.Debug("ack held back by earlier in-flight message", "partition", entry.msg.Partition, "offset", entry.msg.Offset)
		return nil
	}
	if err := k.commit(ctx, msg); err != nil {
		return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
	}
	return nil
}

func (k *KafkaBroker) Close() error {
	werr := k.writer.Close()
	if err := k.reader.Close(); err != nil {
		return err
	}
	return werr
}

type trackedMessage struct {
	msg  kafka.Message
	done bool
}

// offsetTracker keeps fetched messages per partition in offset order.
type offsetTracker struct {
	mu         sync.Mutex
	partitions map[int][]*trackedMessage
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[int][]*trackedMessage)}
}

func (t *offsetTracker) fetched(msg kafka.Message) *trackedMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := &trackedMessage{msg: msg}
	t.partitions[msg.Partition] = append(t.partitions[msg.Partition], e)
	return e
}

// complete marks e done and pops the finished prefix of its partition. It
// returns the last popped message, which is safe to commit.
func (t *offsetTracker) complete(e *trackedMessage) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.done = true
	pending := t.partitions[e.msg.Partition]
	var last *trackedMessage
	for len(pending) > 0 && pending[0].done {
		last = pending[0]
		pending = pending[1:]
	}
	t.partitions[e.msg.Partition] = pending
	if last == nil {
		return kafka.Message{}, false
	}
	return last.msg, true
}
