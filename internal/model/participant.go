package model

import "time"

type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// AssistantClientID is the reserved identity for the automated participant.
// Human client ids are random 31-bit values below this.
const AssistantClientID = 1<<31 - 1

// Position is a zero-based line/character location in a text buffer.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

type Cursor struct {
	FilePath  string `json:"file_path"`
	Line      int    `json:"line"`
	Character int    `json:"character"`
}

type Selection struct {
	FilePath string   `json:"file_path"`
	Start    Position `json:"start"`
	End      Position `json:"end"`
}

// Participant is one member of a collaboration session. The record is
// retained after departure (IsOnline=false) so late-arriving document
// changes can still attribute authorship.
type Participant struct {
	ClientID     int        `json:"client_id"`
	Name         string     `json:"name"`
	Email        string     `json:"email,omitempty"`
	Color        string     `json:"color"`
	Role         Role       `json:"role"`
	IsOnline     bool       `json:"is_online"`
	JoinedAt     time.Time  `json:"joined_at"`
	LastActiveAt time.Time  `json:"last_active_at"`
	Cursor       *Cursor    `json:"cursor,omitempty"`
	Selection    *Selection `json:"selection,omitempty"`
}

// Palette is the deterministic participant color assignment. Two clients
// whose ids collide modulo the palette size share a color; accepted.
var Palette = []string{
	"#e06c75", "#61afef", "#98c379", "#c678dd",
	"#e5c07b", "#56b6c2", "#d19a66", "#abb2bf",
}

func ColorForClient(clientID int) string {
	if clientID < 0 {
		clientID = -clientID
	}
	return Palette[clientID%len(Palette)]
}

// AwarenessState is the transient per-participant state carried on the
// presence broadcast channel, never persisted with the document.
type AwarenessState struct {
	Name      string     `json:"name"`
	Color     string     `json:"color"`
	Role      Role       `json:"role,omitempty"`
	Cursor    *Cursor    `json:"cursor,omitempty"`
	Selection *Selection `json:"selection,omitempty"`
	Thinking  bool       `json:"thinking,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}
