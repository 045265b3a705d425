package transport

import (
	"context"

	"collab-editing-be/internal/model"
	"collab-editing-be/pkg/crdt"
)

type MessageType string

const (
	// MessageDelta carries CRDT ops for one document path.
	MessageDelta MessageType = "delta"
	// MessageAwareness carries one participant's transient state, or their
	// departure when Left is set.
	MessageAwareness MessageType = "awareness"
	// MessageSyncRequest asks peers to respond with their full state.
	MessageSyncRequest MessageType = "sync-request"
	// MessageSyncState answers a sync request with an encoded state blob.
	MessageSyncState MessageType = "sync-state"
)

// Message is the single frame type exchanged through a room. From is the
// origin client id; implementations never deliver a client its own frames.
type Message struct {
	Type      MessageType           `json:"type"`
	From      int                   `json:"from"`
	Path      string                `json:"path,omitempty"`
	Ops       []crdt.Op             `json:"ops,omitempty"`
	State     []byte                `json:"state,omitempty"`
	Awareness *model.AwarenessState `json:"awareness,omitempty"`
	// Client is the subject of an awareness frame, which may differ from
	// From when one process speaks for a second identity (the assistant).
	Client int  `json:"client,omitempty"`
	Left   bool `json:"left,omitempty"`
}

type MessageHandler func(msg Message)

type StateHandler func(state model.ConnectionState)

// Transport is a room-addressed pub/sub channel. Swappable: the backend is
// configuration, not protocol.
type Transport interface {
	// Join subscribes to the room. onState fires on every connection state
	// transition, starting with connecting.
	Join(ctx context.Context, roomID string, clientID int, onMessage MessageHandler, onState StateHandler) error

	// Publish broadcasts a frame to every other room member. Never blocks
	// waiting for acknowledgment.
	Publish(ctx context.Context, msg Message) error

	// Close tears the subscription down. Safe to call more than once.
	Close() error
}
