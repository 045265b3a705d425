package session

import (
	"context"
	"fmt"
	"time"

	"collab-editing-be/internal/model"
	"collab-editing-be/pkg/crdt"
	"collab-editing-be/pkg/events"
	"collab-editing-be/pkg/transport"
)

// onTransportMessage is the single entry point for everything a peer
// sends. It runs on the transport's reader goroutine.
func (e *Engine) onTransportMessage(msg transport.Message) {
	switch msg.Type {
	case transport.MessageDelta:
		doc := e.getOrCreateDoc(msg.Path)
		doc.ApplyRemote(msg.From, msg.Ops)
	case transport.MessageAwareness:
		e.applyAwareness(msg)
	case transport.MessageSyncRequest:
		e.answerSyncRequest()
	case transport.MessageSyncState:
		e.applySyncState(msg)
	default:
		e.logger.Warn("SessionEngine", "Unknown message type", map[string]interface{}{
			"type": string(msg.Type), "from": msg.From,
		})
	}
}

func (e *Engine) onConnState(state model.ConnectionState) {
	e.mu.Lock()
	prev := e.status.ConnectionState
	e.status.ConnectionState = state
	tr := e.transport
	clientID := e.clientID
	local := e.local
	e.mu.Unlock()
	if state == prev {
		return
	}

	switch state {
	case model.ConnConnected:
		e.emit(events.Connected, nil)
		// After a drop, peers may have forgotten us and we may have
		// missed deltas. Re-announce and resync.
		if tr != nil {
			e.publishAwareness(clientID, local, false)
			_ = tr.Publish(context.Background(), transport.Message{
				Type: transport.MessageSyncRequest,
				From: clientID,
			})
		}
	case model.ConnDisconnected:
		e.mu.Lock()
		e.status.IsSynced = false
		e.mu.Unlock()
		e.emit(events.Disconnected, nil)
	}
}

// applyAwareness reconciles one peer's announced state into the roster.
// Departed participants stay in the record with IsOnline false.
func (e *Engine) applyAwareness(msg transport.Message) {
	subject := msg.Client
	if subject == 0 {
		subject = msg.From
	}

	if msg.Left {
		e.mu.Lock()
		p, ok := e.participantLocked(subject)
		departed := ok && p.IsOnline
		if departed {
			p.IsOnline = false
			p.Cursor = nil
			p.Selection = nil
			if e.status.ParticipantCount > 0 {
				e.status.ParticipantCount--
			}
		}
		e.mu.Unlock()
		// A repeated departure frame for an already-offline participant
		// is not a transition, so nothing is emitted.
		if departed {
			e.emit(events.ParticipantLeft, map[string]interface{}{"client_id": subject})
		}
		return
	}

	state := msg.Awareness
	if state == nil {
		state = &model.AwarenessState{}
	}

	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return
	}
	p, known := e.participantLocked(subject)
	if !known && e.cfg.MaxParticipants > 0 && e.status.ParticipantCount >= e.cfg.MaxParticipants {
		e.mu.Unlock()
		e.logger.Warn("SessionEngine", "Room full, ignoring announcement", map[string]interface{}{
			"client_id": subject, "max": e.cfg.MaxParticipants,
		})
		return
	}
	joined := false
	if !known {
		p = &model.Participant{
			ClientID: subject,
			Name:     fmt.Sprintf("User %d", subject),
			Color:    model.ColorForClient(subject),
			Role:     model.RoleEditor,
			JoinedAt: time.Now(),
		}
		e.session.Participants[subject] = p
		joined = true
	}
	if !p.IsOnline {
		p.IsOnline = true
		e.status.ParticipantCount++
		if known {
			joined = true
		}
	}
	if state.Name != "" {
		p.Name = state.Name
	}
	if state.Color != "" {
		p.Color = state.Color
	}
	if state.Role != "" {
		p.Role = state.Role
	}
	p.Cursor = state.Cursor
	p.Selection = state.Selection
	p.LastActiveAt = time.Now()
	snapshot := *p
	tr := e.transport
	clientID := e.clientID
	local := e.local
	e.mu.Unlock()

	if joined {
		e.emit(events.ParticipantJoined, map[string]interface{}{
			"client_id":   subject,
			"participant": snapshot,
		})
		// A newcomer has not seen our announcement. Introduce ourselves
		// so both rosters converge without a full sync round.
		if tr != nil && subject != clientID {
			e.publishAwareness(clientID, local, false)
		}
	} else {
		e.emit(events.ParticipantUpdated, map[string]interface{}{
			"client_id":   subject,
			"participant": snapshot,
		})
	}
}

func (e *Engine) answerSyncRequest() {
	e.mu.Lock()
	tr := e.transport
	clientID := e.clientID
	local := e.local
	docs := make(map[string]*crdt.Doc, len(e.docs))
	for p, d := range e.docs {
		docs[p] = d
	}
	e.mu.Unlock()
	if tr == nil {
		return
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
	e.publishAwareness(clientID, local, false)
}

func (e *Engine) applySyncState(msg transport.Message) {
	doc := e.getOrCreateDoc(msg.Path)
	if err := doc.ApplyState(msg.From, msg.State); err != nil {
		e.logger.Warn("SessionEngine", "Rejecting peer state", map[string]interface{}{
			"file_path": msg.Path, "from": msg.From, "error": err.Error(),
		})
		return
	}

	e.mu.Lock()
	wasSynced := e.status.IsSynced
	e.status.IsSynced = true
	e.status.PendingChanges = 0
	e.status.LastSyncAt = time.Now()
	e.mu.Unlock()

	e.scheduleCacheSave(msg.Path)
	if !wasSynced {
		e.emit(events.Synced, map[string]interface{}{"file_path": msg.Path})
	}
}

// UpdateCursor moves the local caret and shares it with the room.
func (e *Engine) UpdateCursor(filePath string, line, character int) error {
	return e.updateLocalAwareness(func(s *model.AwarenessState) {
		s.Cursor = &model.Cursor{
			FilePath:  filePath,
			Line:      line,
			Character: character,
		}
	})
}

// UpdateSelection shares the local selection range.
func (e *Engine) UpdateSelection(filePath string, start, end model.Position) error {
	return e.updateLocalAwareness(func(s *model.AwarenessState) {
		s.Selection = &model.Selection{
			FilePath: filePath,
			Start:    start,
			End:      end,
		}
	})
}

// ClearSelection withdraws the local selection, keeping the cursor.
func (e *Engine) ClearSelection() error {
	return e.updateLocalAwareness(func(s *model.AwarenessState) {
		s.Selection = nil
	})
}

func (e *Engine) updateLocalAwareness(mutate func(*model.AwarenessState)) error {
	e.mu.Lock()
	if e.session == nil || !e.session.IsActive {
		e.mu.Unlock()
		return ErrNoActiveSession
	}
	mutate(&e.local)
	e.local.UpdatedAt = time.Now()
	clientID := e.clientID
	local := e.local
	if p, ok := e.participantLocked(clientID); ok {
		p.Cursor = local.Cursor
		p.Selection = local.Selection
		p.LastActiveAt = time.Now()
	}
	e.mu.Unlock()

	e.publishAwareness(clientID, local, false)
	return nil
}

// PublishAwarenessAs announces awareness for a client id other than the
// local user. The assistant presents itself to the room through this.
func (e *Engine) PublishAwarenessAs(clientID int, state model.AwarenessState, left bool) error {
	e.mu.Lock()
	if e.session == nil || !e.session.IsActive {
		e.mu.Unlock()
		return ErrNoActiveSession
	}
	e.mu.Unlock()

	state.UpdatedAt = time.Now()
	// The roster treats our own publishes like any peer's.
	e.applyAwareness(transport.Message{
		Type:      transport.MessageAwareness,
		From:      clientID,
		Client:    clientID,
		Awareness: &state,
		Left:      left,
	})
	e.publishAwareness(clientID, state, left)
	return nil
}

func (e *Engine) publishAwareness(clientID int, state model.AwarenessState, left bool) {
	e.mu.Lock()
	tr := e.transport
	from := e.clientID
	e.mu.Unlock()
	if tr == nil {
		return
	}
	msg := transport.Message{
		Type:   transport.MessageAwareness,
		From:   from,
		Client: clientID,
		Left:   left,
	}
	if !left {
		msg.Awareness = &state
	}
	if err := tr.Publish(context.Background(), msg); err != nil {
		e.logger.Warn("SessionEngine", "Awareness publish failed", map[string]interface{}{
			"client_id": clientID, "error": err.Error(),
		})
	}
}

// participantLocked requires e.mu held.
func (e *Engine) participantLocked(clientID int) (*model.Participant, bool) {
	if e.session == nil {
		return nil, false
	}
	p, ok := e.session.Participants[clientID]
	return p, ok
}
