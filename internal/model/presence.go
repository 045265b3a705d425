package model

import "time"

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceIdle    PresenceStatus = "idle"
	PresenceOffline PresenceStatus = "offline"
)

// PresenceRecord tracks liveness for one participant, independent of any
// document state.
type PresenceRecord struct {
	ParticipantID int            `json:"participant_id"`
	Status        PresenceStatus `json:"status"`
	LastActivity  time.Time      `json:"last_activity"`
	IsTyping      bool           `json:"is_typing"`
	CurrentFile   string         `json:"current_file,omitempty"`
}

type ActivityType string

const (
	ActivityTyping    ActivityType = "typing"
	ActivityCursor    ActivityType = "cursor"
	ActivityFileOpen  ActivityType = "file-open"
	ActivityFileClose ActivityType = "file-close"
	ActivityComment   ActivityType = "comment"
)

type ActivityEvent struct {
	ParticipantID int          `json:"participant_id"`
	Type          ActivityType `json:"type"`
	FilePath      string       `json:"file_path,omitempty"`
	At            time.Time    `json:"at"`
}
