package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"collab-editing-be/internal/model"
)

// RedisTransport fans frames out through one Redis pub/sub channel per
// room. go-redis re-establishes the subscription itself after a drop; the
// reader loop surfaces the gap as disconnected/connected transitions.
type RedisTransport struct {
	rdb *redis.Client

	mu       sync.Mutex
	pubsub   *redis.PubSub
	channel  string
	clientID int
	closed   bool
	cancel   context.CancelFunc
}

func NewRedisTransport(url string) (*RedisTransport, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisTransport{rdb: redis.NewClient(opts)}, nil
}

func (t *RedisTransport) Join(ctx context.Context, roomID string, clientID int, onMessage MessageHandler, onState StateHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pubsub != nil {
		return fmt.Errorf("transport already joined room %s", t.channel)
	}

	onState(model.ConnConnecting)
	t.channel = "collab.room." + roomID
	t.clientID = clientID
	t.pubsub = t.rdb.Subscribe(ctx, t.channel)

	// Wait for the subscription confirmation before reporting connected,
	// so no frame published after Join can be missed.
	if _, err := t.pubsub.Receive(ctx); err != nil {
		t.pubsub.Close()
		t.pubsub = nil
		onState(model.ConnDisconnected)
		return fmt.Errorf("subscribe room %s: %w", roomID, err)
	}
	onState(model.ConnConnected)

	readCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	ch := t.pubsub.Channel()

	go func() {
		for {
			select {
			case <-readCtx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					onState(model.ConnDisconnected)
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					continue
				}
				if msg.From == clientID {
					continue
				}
				onMessage(msg)
			}
		}
	}()

	return nil
}

func (t *RedisTransport) Publish(ctx context.Context, msg Message) error {
	t.mu.Lock()
	channel := t.channel
	closed := t.closed
	t.mu.Unlock()
	if closed || channel == "" {
		return fmt.Errorf("transport not joined")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if err := t.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

func (t *RedisTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.cancel != nil {
		t.cancel()
	}
	if t.pubsub != nil {
		t.pubsub.Close()
		t.pubsub = nil
	}
	return t.rdb.Close()
}
