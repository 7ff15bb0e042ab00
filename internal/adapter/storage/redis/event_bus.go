package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"instant-payout/internal/core/domain"
	"instant-payout/internal/core/ports"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// EventsChannel is the pub/sub channel carrying status events between the
// worker and every gateway instance.
const EventsChannel = "websocket:events"

// EventBus implements ports.EventBus over Redis pub/sub.
type EventBus struct {
	client *goredis.Client
	log    zerolog.Logger
}

// NewEventBus creates a Redis-backed event bus.
func NewEventBus(client *goredis.Client, log zerolog.Logger) *EventBus {
	return &EventBus{client: client, log: log}
}

// Publish fans an event out to all subscribed gateway instances.
func (b *EventBus) Publish(ctx context.Context, evt *domain.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, EventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish event: %w", err)
	}
	return nil
}

// Subscribe blocks, relaying events to handler until ctx is cancelled.
// Malformed payloads are logged and skipped; the subscription survives
// them.
func (b *EventBus) Subscribe(ctx context.Context, handler ports.EventHandler) error {
	sub := b.client.Subscribe(ctx, EventsChannel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before consuming.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", EventsChannel, err)
	}

	ch := sub.Channel()
	b.log.Info().Str("channel", EventsChannel).Msg("event bridge subscribed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var evt domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				b.log.Warn().Err(err).Msg("dropping malformed event payload")
				continue
			}
			handler(&evt)
		}
	}
}
