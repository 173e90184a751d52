package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/SafeArrival/internal/broker/messages"
	"github.com/pkg/errors"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// EventPublisher writes trip events keyed by trip id so one trip's events
// stay ordered within a partition.
type EventPublisher struct {
	p        Publisher
	topic    string
	attempts int
	backoff  time.Duration
}

func NewEventPublisher(p Publisher, topic string) *EventPublisher {
	return &EventPublisher{p: p, topic: topic, attempts: 5, backoff: 150 * time.Millisecond}
}

func (e *EventPublisher) WithRetry(attempts int, backoff time.Duration) *EventPublisher {
	if attempts > 0 {
		e.attempts = attempts
	}
	if backoff >= 0 {
		e.backoff = backoff
	}
	return e
}

func (e *EventPublisher) PublishTripEvent(ctx context.Context, ev messages.TripEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal trip event")
	}
	// Kafka may not be reachable right after the stack starts.
	var pubErr error
	for i := 0; i < e.attempts; i++ {
		if pubErr = e.p.Publish(ctx, e.topic, []byte(ev.TripID), b); pubErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * e.backoff):
		}
	}
	slog.Error("publish trip event", "trip_id", ev.TripID, "kind", string(ev.Kind), "error", pubErr.Error())
	return pubErr
}

// ConsumeTripEvents decodes each message and passes it to handler. Malformed
// payloads are logged and skipped so one bad message cannot wedge the group.
func ConsumeTripEvents(ctx context.Context, c *Consumer, handler func(messages.TripEvent) error) error {
	return c.Consume(ctx, func(_key, value []byte) error {
		var ev messages.TripEvent
		if err := json.Unmarshal(value, &ev); err != nil {
			slog.Warn("skip malformed trip event", "error", err.Error())
			return nil
		}
		return handler(ev)
	})
}
