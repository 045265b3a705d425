package session

import (
	"context"
	"time"

	"collab-editing-be/internal/model"
	"collab-editing-be/pkg/crdt"
	"collab-editing-be/pkg/events"
	"collab-editing-be/pkg/transport"
)

// cacheSaveDelay batches rapid edits into one durable write per file.
const cacheSaveDelay = 500 * time.Millisecond

// GetOrCreateText returns the shared text for a file path, creating an
// empty replicated document on first touch. Creation is keyed by path, so
// every participant converges on the same instance.
func (e *Engine) GetOrCreateText(path string) (string, error) {
	e.mu.Lock()
	active := e.session != nil && e.session.IsActive
	e.mu.Unlock()
	if !active {
		return "", ErrNoActiveSession
	}
	return e.getOrCreateDoc(path).Text(), nil
}

// GetText reads without side effects beyond lazy creation.
func (e *Engine) GetText(path string) (string, error) {
	return e.GetOrCreateText(path)
}

// ApplyChange applies one local edit transaction and broadcasts the
// resulting operations.
func (e *Engine) ApplyChange(path string, position, deletedLength int, insertedText string) error {
	e.mu.Lock()
	clientID := e.clientID
	active := e.session != nil && e.session.IsActive
	e.mu.Unlock()
	if !active {
		return ErrNoActiveSession
	}
	return e.applyChangeAs(clientID, path, position, deletedLength, insertedText)
}

// ApplyChangeAs applies an edit attributed to the given client id. The
// assistant uses this to edit as its own participant rather than as the
// local user.
func (e *Engine) ApplyChangeAs(clientID int, path string, position, deletedLength int, insertedText string) error {
	e.mu.Lock()
	active := e.session != nil && e.session.IsActive
	e.mu.Unlock()
	if !active {
		return ErrNoActiveSession
	}
	return e.applyChangeAs(clientID, path, position, deletedLength, insertedText)
}

// UpdateText replaces the whole document in one transaction. Remote
// observers see a single coherent change, never an empty intermediate.
func (e *Engine) UpdateText(path, content string) error {
	e.mu.Lock()
	clientID := e.clientID
	active := e.session != nil && e.session.IsActive
	e.mu.Unlock()
	if !active {
		return ErrNoActiveSession
	}

	doc := e.getOrCreateDoc(path)
	ops := doc.SetText(clientID, content)
	e.broadcastDelta(path, ops)
	e.scheduleCacheSave(path)
	return nil
}

func (e *Engine) applyChangeAs(clientID int, path string, position, deletedLength int, insertedText string) error {
	doc := e.getOrCreateDoc(path)
	ops := doc.ApplyChange(clientID, position, deletedLength, insertedText)
	e.broadcastDelta(path, ops)
	e.scheduleCacheSave(path)
	return nil
}

func (e *Engine) getOrCreateDoc(path string) *crdt.Doc {
	e.mu.Lock()
	defer e.mu.Unlock()
	if doc, ok := e.docs[path]; ok {
		return doc
	}
	doc := crdt.NewDoc(path)
	doc.Observe(e.onDocChange(path))
	e.docs[path] = doc
	return doc
}

// onDocChange fans a document transaction out as bus events. It runs
// outside the document lock, after the transaction is integrated.
func (e *Engine) onDocChange(path string) crdt.Observer {
	return func(clientID int, local bool, changes []crdt.TextChange, ops []crdt.Op) {
		e.mu.Lock()
		e.status.LastSyncAt = time.Now()
		if !local {
			if p, ok := e.participantLocked(clientID); ok {
				p.LastActiveAt = time.Now()
			}
		}
		e.mu.Unlock()

		e.emit(events.DocumentUpdated, map[string]interface{}{
			"file_path": path,
		})
		e.emit(events.DocumentChanged, map[string]interface{}{
			"file_path": path,
			"client_id": clientID,
			"local":     local,
			"changes":   changes,
		})
	}
}

func (e *Engine) broadcastDelta(path string, ops []crdt.Op) {
	if len(ops) == 0 {
		return
	}
	e.mu.Lock()
	tr := e.transport
	clientID := e.clientID
	if tr == nil || e.status.ConnectionState != model.ConnConnected {
		// Count unshipped transactions so callers can see they are ahead
		// of the room. A sync exchange clears the backlog.
		e.status.PendingChanges++
		e.status.IsSynced = false
	}
	e.mu.Unlock()
	if tr == nil {
		return
	}

	err := tr.Publish(context.Background(), transport.Message{
		Type: transport.MessageDelta,
		From: clientID,
		Path: path,
		Ops:  ops,
	})
	if err != nil {
		e.logger.Warn("SessionEngine", "Delta publish failed", map[string]interface{}{
			"file_path": path, "error": err.Error(),
		})
		e.emit(events.Error, map[string]interface{}{"op": "publish", "error": err.Error()})
	}
}

// scheduleCacheSave debounces durable writes per file path.
func (e *Engine) scheduleCacheSave(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cache == nil {
		return
	}
	if timer, ok := e.saveTimers[path]; ok {
		timer.Reset(cacheSaveDelay)
		return
	}
	e.saveTimers[path] = time.AfterFunc(cacheSaveDelay, func() {
		e.saveDocNow(path)
	})
}

func (e *Engine) saveDocNow(path string) {
	e.mu.Lock()
	cache := e.cache
	doc := e.docs[path]
	var roomID string
	if e.session != nil {
		roomID = e.session.RoomID
	}
	delete(e.saveTimers, path)
	e.mu.Unlock()
	if cache == nil || doc == nil || roomID == "" {
		return
	}

	blob, err := doc.EncodeState()
	if err != nil {
		e.logger.Error("SessionEngine", "Document encode failed", map[string]interface{}{
			"file_path": path, "error": err.Error(),
		})
		return
	}
	if err := cache.Save(context.Background(), roomID, path, blob); err != nil {
		e.logger.Warn("SessionEngine", "Cache save failed", map[string]interface{}{
			"file_path": path, "error": err.Error(),
		})
	}
}
