package session

import (
	"sort"
	"time"

	"collab-editing-be/internal/model"
	"collab-editing-be/pkg/crdt"
)

// ExportedState is a point-in-time snapshot for diagnostics. Document
// states are the same opaque blobs the cache and the wire carry.
type ExportedState struct {
	Session       *model.Session    `json:"session"`
	SyncStatus    model.SyncStatus  `json:"sync_status"`
	DocumentState map[string][]byte `json:"document_state"`
	ExportedAt    time.Time         `json:"exported_at"`
}

// Statistics summarizes a running session.
type Statistics struct {
	SessionID        string                `json:"session_id"`
	Duration         time.Duration         `json:"duration"`
	ParticipantCount int                   `json:"participant_count"`
	DocumentCount    int                   `json:"document_count"`
	TotalBytes       int                   `json:"total_bytes"`
	ConnectionState  model.ConnectionState `json:"connection_state"`
	IsSynced         bool                  `json:"is_synced"`
}

// Session returns the current session, nil when none is active.
func (e *Engine) Session() *model.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// ClientID returns the local client id for the current session, 0 when
// none is active.
func (e *Engine) ClientID() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return 0
	}
	return e.clientID
}

// GetParticipants returns roster snapshots ordered by join time. Departed
// participants are included with IsOnline false.
func (e *Engine) GetParticipants() []model.Participant {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	out := make([]model.Participant, 0, len(e.session.Participants))
	for _, p := range e.session.Participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ClientID < out[j].ClientID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// GetParticipant looks one participant up by client id.
func (e *Engine) GetParticipant(clientID int) (model.Participant, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.participantLocked(clientID)
	if !ok {
		return model.Participant{}, false
	}
	return *p, true
}

// GetSyncStatus returns a copy of the live status.
func (e *Engine) GetSyncStatus() model.SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// ExportState captures the session, status and every document's encoded
// state. Returns ErrNoActiveSession when nothing is running.
func (e *Engine) ExportState() (*ExportedState, error) {
	e.mu.Lock()
	if e.session == nil || !e.session.IsActive {
		e.mu.Unlock()
		return nil, ErrNoActiveSession
	}
	sess := *e.session
	status := e.status
	docs := make(map[string]*crdt.Doc, len(e.docs))
	for path, doc := range e.docs {
		docs[path] = doc
	}
	e.mu.Unlock()

	state := make(map[string][]byte, len(docs))
	for path, doc := range docs {
		blob, err := doc.EncodeState()
		if err != nil {
			return nil, err
		}
		state[path] = blob
	}
	return &ExportedState{
		Session:       &sess,
		SyncStatus:    status,
		DocumentState: state,
		ExportedAt:    time.Now(),
	}, nil
}

// GetStatistics reports aggregate numbers for the running session.
func (e *Engine) GetStatistics() (Statistics, error) {
	e.mu.Lock()
	if e.session == nil || !e.session.IsActive {
		e.mu.Unlock()
		return Statistics{}, ErrNoActiveSession
	}
	stats := Statistics{
		SessionID:        e.session.ID.String(),
		Duration:         time.Since(e.session.StartedAt),
		ParticipantCount: e.status.ParticipantCount,
		DocumentCount:    len(e.docs),
		ConnectionState:  e.status.ConnectionState,
		IsSynced:         e.status.IsSynced,
	}
	docs := make([]*crdt.Doc, 0, len(e.docs))
	for _, doc := range e.docs {
		docs = append(docs, doc)
	}
	e.mu.Unlock()

	for _, doc := range docs {
		stats.TotalBytes += len(doc.Text())
	}
	return stats, nil
}
