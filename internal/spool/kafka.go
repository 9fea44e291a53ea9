package spool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaQueueConfig configures the broker-backed queue.
type KafkaQueueConfig struct {
	Brokers []string
	Topic   string

	// GroupID is the consumer group; at-least-once delivery comes from
	// committing offsets only once every lower offset is acked.
	GroupID string

	// WriteTimeout is the per-publish timeout. Defaults to 10s.
	WriteTimeout time.Duration
}

// KafkaQueue satisfies the Queue contract on top of a Kafka topic.
// Unlike the filesystem spool it delivers in partition order, not
// newest first; the contract only promises best-effort ordering.
type KafkaQueue struct {
	writer *kafka.Writer
	reader *kafka.Reader

	mu      sync.Mutex
	tracker *commitTracker
}

// NewKafkaQueue constructs a Kafka-backed queue.
func NewKafkaQueue(cfg KafkaQueueConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("spool: at least one kafka broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("spool: kafka topic required")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("spool: kafka group id required")
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		// key-hash balancer keeps items of one event on one partition,
		// preserving per-event order
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	})
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &KafkaQueue{
		writer:  w,
		reader:  r,
		tracker: newCommitTracker(),
	}, nil
}

func (q *KafkaQueue) Publish(ctx context.Context, eventID string, payload []byte) (string, error) {
	msg := kafka.Message{
		Key:   []byte(eventID),
		Value: payload,
		Time:  time.Now().UTC(),
	}
	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("spool: kafka publish: %w", err)
	}
	return fmt.Sprintf("%s@%s", eventID, msg.Time.Format(time.RFC3339Nano)), nil
}

// PollPending fetches up to max uncommitted messages. Fetched messages
// stay in flight until Ack releases their offsets; any message not
// acked before the group rebalances or the process restarts is
// redelivered.
func (q *KafkaQueue) PollPending(ctx context.Context, max int) ([]Item, error) {
	if max <= 0 {
		max = 1
	}
	var items []Item
	for len(items) < max {
		fetchCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		msg, err := q.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			// deadline means the topic is drained for now
			if ctx.Err() != nil {
				return items, ctx.Err()
			}
			break
		}
		q.mu.Lock()
		token := q.tracker.fetched(msg)
		q.mu.Unlock()
		items = append(items, Item{
			Token:   token,
			EventID: string(msg.Key),
			Payload: msg.Value,
		})
	}
	return items, nil
}

// Ack marks the token processed. The underlying offset commit is
// deferred until every lower offset on the same partition is acked, so
// a skipped earlier item stays uncommitted and is redelivered.
func (q *KafkaQueue) Ack(ctx context.Context, token string) error {
	q.mu.Lock()
	msg, ok := q.tracker.ack(token)
	q.mu.Unlock()
	if !ok {
		// unknown token, or blocked behind an unacked lower offset;
		// the commit happens when that offset is acked
		return nil
	}
	if err := q.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("spool: kafka ack %s: %w", token, err)
	}
	return nil
}

// Close shuts down the writer and reader.
func (q *KafkaQueue) Close() error {
	werr := q.writer.Close()
	rerr := q.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

func tokenFor(msg kafka.Message) string {
	return fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}

// commitTracker holds fetched messages until they are safe to commit.
// Kafka commits are cumulative per partition: committing a message
// marks every lower offset consumed, so committing an acked message
// while an earlier fetched one is still unacked would lose the earlier
// one. ack therefore only releases the contiguous acked prefix of a
// partition and reports the highest message of that prefix.
type commitTracker struct {
	pending map[int][]kafka.Message
	byToken map[string]kafka.Message
	acked   map[string]bool
}

func newCommitTracker() *commitTracker {
	return &commitTracker{
		pending: make(map[int][]kafka.Message),
		byToken: make(map[string]kafka.Message),
		acked:   make(map[string]bool),
	}
}

// fetched records a message in fetch order and returns its token.
// Refetching a tracked message keeps the existing entry.
func (t *commitTracker) fetched(msg kafka.Message) string {
	token := tokenFor(msg)
	if _, ok := t.byToken[token]; ok {
		return token
	}
	t.byToken[token] = msg
	t.pending[msg.Partition] = append(t.pending[msg.Partition], msg)
	return token
}

// ack marks the token processed and pops the contiguous acked prefix of
// its partition. The returned message is the highest offset safe to
// commit; ok is false when nothing can be committed yet.
func (t *commitTracker) ack(token string) (kafka.Message, bool) {
	msg, tracked := t.byToken[token]
	if !tracked {
		return kafka.Message{}, false
	}
	t.acked[token] = true

	queue := t.pending[msg.Partition]
	var last kafka.Message
	released := false
	for len(queue) > 0 {
		head := tokenFor(queue[0])
		if !t.acked[head] {
			break
		}
		last = queue[0]
		released = true
		delete(t.acked, head)
		delete(t.byToken, head)
		queue = queue[1:]
	}
	t.pending[msg.Partition] = queue
	return last, released
}
