// Package queue feeds upload batches from the pub/sub channel to the worker.
// Arrival and processing are decoupled through a buffered channel with a
// blocking receive; the worker drains it strictly one batch at a time.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"trainsync/internal/alert"
	"trainsync/internal/platform/redis"
	"trainsync/internal/sync/metrics"
	"trainsync/internal/sync/models"
)

// Pub/sub traffic is interactive-scale; if the buffer ever fills the
// subscriber blocks rather than dropping batches.
const inboxCapacity = 64

// Queue is the in-process batch buffer.
type Queue struct {
	inbox   chan models.BatchMessage
	metrics *metrics.Metrics
	alerter alert.Alerter
	log     *slog.Logger
}

func New(m *metrics.Metrics, alerter alert.Alerter, log *slog.Logger) *Queue {
	return &Queue{
		inbox:   make(chan models.BatchMessage, inboxCapacity),
		metrics: m,
		alerter: alerter,
		log:     log,
	}
}

// Inbox is the worker's consume side.
func (q *Queue) Inbox() <-chan models.BatchMessage {
	return q.inbox
}

// Enqueue decodes one raw payload and appends it. Garbled payloads are
// logged, alerted, and skipped: a bad batch never reaches the worker and
// never stops later batches.
func (q *Queue) Enqueue(ctx context.Context, payload string) {
	if payload == "" {
		return
	}

	var batch models.BatchMessage
	if err := json.Unmarshal([]byte(payload), &batch); err != nil {
		q.metrics.BatchesSkipped.Inc()
		q.log.Error("malformed batch payload skipped", "error", err)
		q.alerter.Emit(ctx, "Failed to load upload batch", err.Error())
		return
	}
	if len(batch) == 0 {
		return
	}

	select {
	case q.inbox <- batch:
	case <-ctx.Done():
	}
}

// Subscribe consumes the pub/sub channel until the context is canceled.
func (q *Queue) Subscribe(ctx context.Context, client *redis.Client, channel string) error {
	sub := client.SubscribeChannel(ctx, channel)
	defer sub.Close()

	// Fail fast if the subscription did not establish.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	q.log.Info("subscribed to upload channel", "channel", channel)
	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("subscription to %s closed", channel)
			}
			q.Enqueue(ctx, msg.Payload)
		}
	}
}
