package model

import (
	"time"

	"github.com/google/uuid"
)

type ConnectionState string

const (
	ConnDisconnected ConnectionState = "disconnected"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
)

// Session is the live handle for one joined collaboration room. Exactly one
// session is active per process at a time.
type Session struct {
	ID           uuid.UUID           `json:"id"`
	DocumentID   string              `json:"document_id"`
	RoomID       string              `json:"room_id"`
	StartedAt    time.Time           `json:"started_at"`
	IsActive     bool                `json:"is_active"`
	Participants map[int]*Participant `json:"participants"`
}

// SyncStatus is derived from transport and document events; it is never a
// source of truth.
type SyncStatus struct {
	IsSynced         bool            `json:"is_synced"`
	PendingChanges   int             `json:"pending_changes"`
	ParticipantCount int             `json:"participant_count"`
	ConnectionState  ConnectionState `json:"connection_state"`
	LastSyncAt       time.Time       `json:"last_sync_at"`
}
