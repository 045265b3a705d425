package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"collab-editing-be/internal/model"
)

// NatsTransport fans frames out over one core NATS subject per room. The
// client's own reconnect loop drives the connection state callbacks, so a
// dropped signaling server degrades to offline editing and resynchronizes
// on reconnect without application involvement.
type NatsTransport struct {
	url string

	mu       sync.Mutex
	nc       *nats.Conn
	sub      *nats.Subscription
	subject  string
	clientID int
	closed   bool
}

func NewNatsTransport(url string) *NatsTransport {
	return &NatsTransport{url: url}
}

func (t *NatsTransport) Join(ctx context.Context, roomID string, clientID int, onMessage MessageHandler, onState StateHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.nc != nil {
		return fmt.Errorf("transport already joined room %s", t.subject)
	}

	onState(model.ConnConnecting)
	nc, err := nats.Connect(t.url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, _ error) {
			onState(model.ConnDisconnected)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			onState(model.ConnConnected)
		}),
	)
	if err != nil {
		onState(model.ConnDisconnected)
		return fmt.Errorf("connect to NATS: %w", err)
	}

	t.subject = "collab.room." + roomID
	t.clientID = clientID
	sub, err := nc.Subscribe(t.subject, func(m *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			return
		}
		if msg.From == clientID {
			return
		}
		onMessage(msg)
	})
	if err != nil {
		nc.Close()
		onState(model.ConnDisconnected)
		return fmt.Errorf("subscribe %s: %w", t.subject, err)
	}

	t.nc = nc
	t.sub = sub
	onState(model.ConnConnected)
	return nil
}

func (t *NatsTransport) Publish(_ context.Context, msg Message) error {
	t.mu.Lock()
	nc := t.nc
	subject := t.subject
	t.mu.Unlock()
	if nc == nil {
		return fmt.Errorf("transport not joined")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if err := nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

func (t *NatsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.sub != nil {
		t.sub.Unsubscribe()
		t.sub = nil
	}
	if t.nc != nil {
		t.nc.Close()
		t.nc = nil
	}
	return nil
}
