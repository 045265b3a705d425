package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"collab-editing-be/internal/pkg/logger"
)

const (
	// clusterChannel carries frames between relay instances.
	clusterChannel = "collab_cluster_frames"
	// backlogCap bounds the per-room replay buffer.
	backlogCap = 128
	// backlogTTL expires idle room backlogs.
	backlogTTL = 10 * time.Minute
)

type frame struct {
	RoomID string
	Sender *Client
	Data   []byte
}

// Hub fans frames out inside rooms. A frame from one client reaches every
// other client in the same room, on this instance directly and on sibling
// instances through Redis. A short backlog per room is replayed to
// joiners so they see recent traffic before their first sync exchange.
type Hub struct {
	// roomID -> clients in that room
	rooms map[string][]*Client

	register   chan *Client
	unregister chan *Client
	frames     chan frame

	mu sync.RWMutex

	// Redis connection for cross-instance fan-out, nil for single-instance
	rdb *redis.Client

	// instanceID filters out our own cluster publishes
	instanceID string

	backlog *gocache.Cache
	logger  logger.ILogger
}

func NewHub(rdb *redis.Client, log logger.ILogger) *Hub {
	return &Hub{
		rooms:      make(map[string][]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		frames:     make(chan frame, 256),
		rdb:        rdb,
		instanceID: uuid.NewString(),
		backlog:    gocache.New(backlogTTL, backlogTTL),
		logger:     log,
	}
}

func (h *Hub) Run() {
	if h.rdb != nil {
		go h.subscribeToRedis()
	}

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.rooms[client.RoomID] = append(h.rooms[client.RoomID], client)
			h.mu.Unlock()
			h.logger.Info("Hub", "Client joined room", map[string]interface{}{
				"room_id": client.RoomID, "client_id": client.ClientID,
			})
			h.replayBacklog(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case f := <-h.frames:
			h.pushBacklog(f.RoomID, f.Data)
			h.fanOutLocal(f.RoomID, f.Sender, f.Data)
			h.publishToCluster(f.RoomID, f.Data)
		}
	}
}

// RoomCount reports how many clients a room has on this instance.
func (h *Hub) RoomCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Rooms lists room ids with at least one local client.
func (h *Hub) Rooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		out = append(out, id)
	}
	return out
}

// removeClient detaches a client from its room and closes its send
// channel. Idempotent: a client already removed is left alone, so the
// drop path and a later pump-driven unregister cannot double-close.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.rooms[client.RoomID]
	if !ok {
		return
	}
	for i, c := range clients {
		if c == client {
			h.rooms[client.RoomID] = append(clients[:i], clients[i+1:]...)
			close(client.Send)
			break
		}
	}
	if len(h.rooms[client.RoomID]) == 0 {
		delete(h.rooms, client.RoomID)
		h.logger.Info("Hub", "Room emptied", map[string]interface{}{"room_id": client.RoomID})
	}
}

func (h *Hub) fanOutLocal(roomID string, sender *Client, data []byte) {
	h.mu.RLock()
	clients := h.rooms[roomID]
	var dropped []*Client
	for _, client := range clients {
		if client == sender {
			continue
		}
		select {
		case client.Send <- data:
		default:
			h.logger.Warn("Hub", "Client send buffer full, dropping connection", map[string]interface{}{
				"room_id": roomID, "client_id": client.ClientID,
			})
			dropped = append(dropped, client)
		}
	}
	h.mu.RUnlock()

	// Remove directly rather than through the unregister channel: this
	// runs on the Run loop itself, which is the channel's only consumer.
	for _, client := range dropped {
		h.removeClient(client)
	}
}

func (h *Hub) publishToCluster(roomID string, data []byte) {
	if h.rdb == nil {
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"instance_id": h.instanceID,
		"room_id":     roomID,
		"frame":       data,
	})
	if err := h.rdb.Publish(context.Background(), clusterChannel, payload).Err(); err != nil {
		h.logger.Warn("Hub", "Cluster publish failed", map[string]interface{}{"error": err.Error()})
	}
}

func (h *Hub) subscribeToRedis() {
	ctx := context.Background()
	pubsub := h.rdb.Subscribe(ctx, clusterChannel)
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		var payload struct {
			InstanceID string          `json:"instance_id"`
			RoomID     string          `json:"room_id"`
			Frame      json.RawMessage `json:"frame"`
		}
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			h.logger.Warn("Hub", "Cluster frame parse error", map[string]interface{}{"error": err.Error()})
			continue
		}
		if payload.InstanceID == h.instanceID {
			continue
		}
		h.fanOutLocal(payload.RoomID, nil, payload.Frame)
	}
}

// pushBacklog appends a frame to the room's replay buffer, oldest out.
func (h *Hub) pushBacklog(roomID string, data []byte) {
	var entries [][]byte
	if cached, ok := h.backlog.Get(roomID); ok {
		entries = cached.([][]byte)
	}
	entries = append(entries, data)
	if len(entries) > backlogCap {
		entries = entries[len(entries)-backlogCap:]
	}
	h.backlog.Set(roomID, entries, backlogTTL)
}

// replayBacklog hands recent room traffic to a joiner. Frames the joiner
// sent in a previous connection come back too; the protocol layer already
// drops ops it has seen.
func (h *Hub) replayBacklog(client *Client) {
	cached, ok := h.backlog.Get(client.RoomID)
	if !ok {
		return
	}
	for _, data := range cached.([][]byte) {
		select {
		case client.Send <- data:
		default:
			return
		}
	}
}
