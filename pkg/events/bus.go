package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Handler processes one event delivered by the bus.
type Handler func(ctx context.Context, event Event) error

type envelope struct {
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Bus is the in-process fan-out for the closed event set, one gochannel
// topic per event type. Payloads cross the bus as JSON, so subscribers see
// plain maps regardless of what the producer constructed them from.
type Bus struct {
	pubSub *gochannel.GoChannel
}

func NewBus() *Bus {
	return &Bus{
		pubSub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, watermill.NopLogger{}),
	}
}

// Publish sends the event to every subscriber of its type. Publishing to a
// type nobody subscribes to is a no-op.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(envelope{
		Type:       event.EventType(),
		Data:       event.Payload(),
		OccurredAt: event.Timestamp(),
	})
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.EventType(), err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	return b.pubSub.Publish(event.EventType(), msg)
}

// Subscribe registers a handler for one event type. Delivery runs on a
// dedicated goroutine until ctx is cancelled or the bus closes. Handler
// errors are swallowed after Nack-free logging by the caller's choice;
// the bus itself never retries.
func (b *Bus) Subscribe(ctx context.Context, eventType string, handler Handler) error {
	messages, err := b.pubSub.Subscribe(ctx, eventType)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", eventType, err)
	}

	go func() {
		for msg := range messages {
			var env envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				msg.Ack()
				continue
			}
			_ = handler(msg.Context(), BaseEvent{
				Type:       env.Type,
				Data:       env.Data,
				OccurredAt: env.OccurredAt,
			})
			msg.Ack()
		}
	}()

	return nil
}

// Close shuts the underlying channel down; pending deliveries are dropped.
func (b *Bus) Close() error {
	return b.pubSub.Close()
}
