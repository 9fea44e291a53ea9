// Package spool implements the at-least-once handoff queue between the
// picker client, the repicker service and the result collector. Two
// backends satisfy the same contract: a filesystem spool an operator
// can inspect, and a Kafka topic.
package spool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/seisworks/dlrepick/internal/model"
)

// Item is one queued payload together with its handoff token.
type Item struct {
	Token   string
	EventID string
	Payload []byte
}

// Queue is the at-least-once handoff contract. Publish is atomic: a
// crash mid-publish leaves either a complete, discoverable item or
// nothing visible to consumers. PollPending returns pending items,
// best-effort newest first, and may redeliver an item until Ack is
// called for its token; consumers must be idempotent under redelivery.
type Queue interface {
	Publish(ctx context.Context, eventID string, payload []byte) (string, error)
	PollPending(ctx context.Context, max int) ([]Item, error)
	Ack(ctx context.Context, token string) error
}

// Inspector is the optional non-consuming view of a queue's pending
// items. The filesystem spool implements it; a Kafka fetch advances the
// consumer-group cursor and would steal the item from the consumer, so
// the broker backend does not.
type Inspector interface {
	PendingSnapshot(ctx context.Context, max int) ([]Item, error)
}

// PublishWorkItem serializes and publishes a work item.
func PublishWorkItem(ctx context.Context, q Queue, item model.WorkItem) (string, error) {
	b, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("spool: marshal work item: %w", err)
	}
	return q.Publish(ctx, item.EventID, b)
}

// DecodeWorkItem parses a polled item back into a work item.
func DecodeWorkItem(it Item) (model.WorkItem, error) {
	var w model.WorkItem
	if err := json.Unmarshal(it.Payload, &w); err != nil {
		return model.WorkItem{}, fmt.Errorf("spool: decode work item %s: %w", it.Token, err)
	}
	return w, nil
}

// PublishResult serializes and publishes a refinement result.
func PublishResult(ctx context.Context, q Queue, res model.Result) (string, error) {
	b, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("spool: marshal result: %w", err)
	}
	return q.Publish(ctx, res.EventID, b)
}

// DecodeResult parses a polled item back into a result.
func DecodeResult(it Item) (model.Result, error) {
	var r model.Result
	if err := json.Unmarshal(it.Payload, &r); err != nil {
		return model.Result{}, fmt.Errorf("spool: decode result %s: %w", it.Token, err)
	}
	return r, nil
}
