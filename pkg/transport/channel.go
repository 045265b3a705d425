package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"collab-editing-be/internal/model"
)

// ChannelHub is an in-process rendezvous point: every ChannelTransport
// created from the same hub shares one gochannel pub/sub, so peers living
// in one process (tests, the simulation CLI) exchange frames without any
// network backend.
type ChannelHub struct {
	pubSub *gochannel.GoChannel
}

func NewChannelHub() *ChannelHub {
	return &ChannelHub{
		pubSub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, watermill.NopLogger{}),
	}
}

func (h *ChannelHub) Close() error {
	return h.pubSub.Close()
}

// Transport returns a new peer endpoint on this hub.
func (h *ChannelHub) Transport() *ChannelTransport {
	return &ChannelTransport{hub: h}
}

type ChannelTransport struct {
	hub *ChannelHub

	mu       sync.Mutex
	topic    string
	clientID int
	cancel   context.CancelFunc
	closed   bool
}

func (t *ChannelTransport) Join(_ context.Context, roomID string, clientID int, onMessage MessageHandler, onState StateHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.topic != "" {
		return fmt.Errorf("transport already joined room %s", t.topic)
	}

	onState(model.ConnConnecting)
	subCtx, cancel := context.WithCancel(context.Background())
	messages, err := t.hub.pubSub.Subscribe(subCtx, "collab.room."+roomID)
	if err != nil {
		cancel()
		onState(model.ConnDisconnected)
		return fmt.Errorf("subscribe room %s: %w", roomID, err)
	}

	t.topic = "collab.room." + roomID
	t.clientID = clientID
	t.cancel = cancel

	go func() {
		for wm := range messages {
			var msg Message
			if err := json.Unmarshal(wm.Payload, &msg); err != nil {
				wm.Ack()
				continue
			}
			wm.Ack()
			if msg.From == clientID {
				continue
			}
			onMessage(msg)
		}
	}()

	onState(model.ConnConnected)
	return nil
}

func (t *ChannelTransport) Publish(_ context.Context, msg Message) error {
	t.mu.Lock()
	topic := t.topic
	closed := t.closed
	t.mu.Unlock()
	if closed || topic == "" {
		return fmt.Errorf("transport not joined")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return t.hub.pubSub.Publish(topic, message.NewMessage(watermill.NewUUID(), data))
}

func (t *ChannelTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.cancel != nil {
		t.cancel()
	}
	return nil
}
