package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"collab-editing-be/internal/model"
	"collab-editing-be/internal/pkg/logger"
	"collab-editing-be/internal/repository/roomcache"
	"collab-editing-be/pkg/crdt"
	"collab-editing-be/pkg/events"
	"collab-editing-be/pkg/transport"
)

// ErrNoActiveSession is returned by operations that need a joined session.
var ErrNoActiveSession = errors.New("no active session")

// Config is the start/join request. Starting and joining are the same
// operation against a rendezvous point.
type Config struct {
	DocumentID          string `validate:"required"`
	UserName            string `validate:"required"`
	UserEmail           string `validate:"omitempty,email"`
	SessionPassword     string
	EnableLocalCache    bool
	EnablePeerTransport bool
	SignalingEndpoints  []string
	MaxParticipants     int
}

// Options wires the engine's collaborators. NewTransport is a factory
// because a transport instance joins exactly one room; it receives the
// session's signaling endpoints, which backends that dial may use.
type Options struct {
	Logger       logger.ILogger
	Bus          *events.Bus
	NewTransport func(endpoints []string) (transport.Transport, error)
	CachePath    string
}

// Engine owns the replicated documents, the peer transport, the durable
// local cache and the participant roster for one session at a time. Every
// other component observes it through bus events; nothing else mutates its
// state.
type Engine struct {
	logger   logger.ILogger
	bus      *events.Bus
	validate *validator.Validate
	opts     Options

	mu        sync.Mutex
	cfg       Config
	session   *model.Session
	clientID  int
	transport transport.Transport
	cache     *roomcache.Store
	docs      map[string]*crdt.Doc
	status    model.SyncStatus
	local     model.AwarenessState
	saveTimers map[string]*time.Timer
}

func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	return &Engine{
		logger:     opts.Logger,
		bus:        opts.Bus,
		validate:   validator.New(),
		opts:       opts,
		docs:       make(map[string]*crdt.Doc),
		saveTimers: make(map[string]*time.Timer),
		status:     model.SyncStatus{ConnectionState: model.ConnDisconnected},
	}
}

// StartOrJoin validates the config, restores the durable cache (blocking
// until its initial load completes), opens the peer channel and announces
// the local participant. Failures surface as a single error event and a
// returned error; Leave is the cleanup path in both cases.
func (e *Engine) StartOrJoin(ctx context.Context, cfg Config) (*model.Session, error) {
	if err := e.validateConfig(cfg); err != nil {
		e.emit(events.Error, map[string]interface{}{"op": "start", "error": err.Error()})
		return nil, err
	}

	e.mu.Lock()
	if e.session != nil && e.session.IsActive {
		e.mu.Unlock()
		return nil, fmt.Errorf("session already active for document %s", e.session.DocumentID)
	}

	roomID := transport.DeriveRoomID(cfg.DocumentID, cfg.SessionPassword)
	clientID := newClientID()
	sess := &model.Session{
		ID:           uuid.New(),
		DocumentID:   cfg.DocumentID,
		RoomID:       roomID,
		StartedAt:    time.Now(),
		IsActive:     true,
		Participants: make(map[int]*model.Participant),
	}

	self := &model.Participant{
		ClientID:     clientID,
		Name:         cfg.UserName,
		Email:        cfg.UserEmail,
		Color:        model.ColorForClient(clientID),
		Role:         model.RoleOwner,
		IsOnline:     true,
		JoinedAt:     time.Now(),
		LastActiveAt: time.Now(),
	}
	sess.Participants[clientID] = self

	e.cfg = cfg
	e.session = sess
	e.clientID = clientID
	e.docs = make(map[string]*crdt.Doc)
	e.status = model.SyncStatus{ConnectionState: model.ConnDisconnected, ParticipantCount: 1}
	e.local = model.AwarenessState{
		Name:      cfg.UserName,
		Color:     self.Color,
		Role:      model.RoleOwner,
		UpdatedAt: time.Now(),
	}
	e.mu.Unlock()

	if cfg.EnableLocalCache {
		if err := e.restoreCache(ctx, roomID); err != nil {
			e.failStart("cache", err)
			return nil, err
		}
	}

	if cfg.EnablePeerTransport {
		if err := e.openTransport(ctx, roomID, clientID); err != nil {
			e.failStart("transport", err)
			return nil, err
		}
	}

	e.logger.Info("SessionEngine", "Session started", map[string]interface{}{
		"session_id": sess.ID.String(),
		"room_id":    roomID,
		"client_id":  clientID,
	})
	e.emit(events.SessionStarted, map[string]interface{}{
		"session_id":  sess.ID.String(),
		"document_id": cfg.DocumentID,
		"room_id":     roomID,
		"client_id":   clientID,
	})
	return sess, nil
}

// Leave tears the session down. Idempotent and safe with no active
// session, so dispose paths can call it unconditionally.
func (e *Engine) Leave() error {
	return e.teardown(true)
}

// teardown releases the transport, flushes the cache and resets state.
// announce is false on the failed-start path, where no session-started
// was ever emitted and a session-ended would be misleading.
func (e *Engine) teardown(announce bool) error {
	e.mu.Lock()
	if e.session == nil || !e.session.IsActive {
		e.mu.Unlock()
		return nil
	}
	sess := e.session
	sess.IsActive = false
	tr := e.transport
	cache := e.cache
	docs := e.docs
	roomID := sess.RoomID
	clientID := e.clientID
	for path, timer := range e.saveTimers {
		timer.Stop()
		delete(e.saveTimers, path)
	}
	e.transport = nil
	e.cache = nil
	e.docs = make(map[string]*crdt.Doc)
	e.session = nil
	e.status = model.SyncStatus{ConnectionState: model.ConnDisconnected}
	e.mu.Unlock()

	if tr != nil {
		_ = tr.Publish(context.Background(), transport.Message{
			Type: transport.MessageAwareness,
			From: clientID,
			Left: true,
		})
		if err := tr.Close(); err != nil {
			e.logger.Warn("SessionEngine", "Transport close failed", map[string]interface{}{"error": err.Error()})
		}
	}
	if cache != nil {
		for path, doc := range docs {
			if blob, err := doc.EncodeState(); err == nil {
				_ = cache.Save(context.Background(), roomID, path, blob)
			}
		}
		if err := cache.Close(); err != nil {
			e.logger.Warn("SessionEngine", "Cache close failed", map[string]interface{}{"error": err.Error()})
		}
	}

	if announce {
		e.logger.Info("SessionEngine", "Session ended", map[string]interface{}{"session_id": sess.ID.String()})
		e.emit(events.SessionEnded, map[string]interface{}{"session_id": sess.ID.String()})
	}
	return nil
}

// ForceSync nudges resynchronization: pushes local state for every open
// document and asks peers for theirs.
func (e *Engine) ForceSync() error {
	e.mu.Lock()
	tr := e.transport
	clientID := e.clientID
	docs := make(map[string]*crdt.Doc, len(e.docs))
	for p, d := range e.docs {
		docs[p] = d
	}
	e.mu.Unlock()
	if tr == nil {
		return ErrNoActiveSession
	}

	for path, doc := range docs {
		blob, err := doc.EncodeState()
		if err != nil {
			continue
		}
		_ = tr.Publish(context.Background(), transport.Message{
			Type:  transport.MessageSyncState,
			From:  clientID,
			Path:  path,
			State: blob,
		})
	}
	return tr.Publish(context.Background(), transport.Message{
		Type: transport.MessageSyncRequest,
		From: clientID,
	})
}

func (e *Engine) validateConfig(cfg Config) error {
	err := e.validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &model.ConfigError{Field: verrs[0].Field(), Reason: "is " + verrs[0].Tag()}
	}
	return &model.ConfigError{Field: "config", Reason: err.Error()}
}

func (e *Engine) restoreCache(ctx context.Context, roomID string) error {
	path := e.opts.CachePath
	if path == "" {
		path = "collab-cache.db"
	}
	cache, err := roomcache.Open(path)
	if err != nil {
		return fmt.Errorf("open local cache: %w", err)
	}
	blobs, err := cache.LoadRoom(ctx, roomID)
	if err != nil {
		cache.Close()
		return fmt.Errorf("restore local cache: %w", err)
	}

	e.mu.Lock()
	e.cache = cache
	clientID := e.clientID
	e.mu.Unlock()

	for path, blob := range blobs {
		doc := e.getOrCreateDoc(path)
		if err := doc.ApplyState(clientID, blob); err != nil {
			e.logger.Warn("SessionEngine", "Discarding corrupt cached state", map[string]interface{}{
				"file_path": path, "error": err.Error(),
			})
		}
	}
	return nil
}

func (e *Engine) openTransport(ctx context.Context, roomID string, clientID int) error {
	if e.opts.NewTransport == nil {
		return &model.TransportError{Op: "join", Err: errors.New("no transport configured")}
	}
	tr, err := e.opts.NewTransport(e.cfg.SignalingEndpoints)
	if err != nil {
		return &model.TransportError{Op: "join", Err: err}
	}
	if err := tr.Join(ctx, roomID, clientID, e.onTransportMessage, e.onConnState); err != nil {
		tr.Close()
		return &model.TransportError{Op: "join", Err: err}
	}

	e.mu.Lock()
	e.transport = tr
	local := e.local
	e.mu.Unlock()

	// Announce identity and ask the room for its state.
	e.publishAwareness(clientID, local, false)
	_ = tr.Publish(ctx, transport.Message{Type: transport.MessageSyncRequest, From: clientID})
	return nil
}

func (e *Engine) failStart(op string, err error) {
	e.logger.Error("SessionEngine", "Session start failed", map[string]interface{}{
		"op": op, "error": err.Error(),
	})
	e.emit(events.Error, map[string]interface{}{"op": op, "error": err.Error()})
	_ = e.teardown(false)
}

func (e *Engine) emit(eventType string, data map[string]interface{}) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(context.Background(), events.New(eventType, data)); err != nil {
		e.logger.Warn("SessionEngine", "Event publish failed", map[string]interface{}{
			"event": eventType, "error": err.Error(),
		})
	}
}

// newClientID issues a process-scoped random id, re-issued on every join.
// The top of the range is reserved for the assistant.
func newClientID() int {
	return rand.Intn(model.AssistantClientID-1) + 1
}
