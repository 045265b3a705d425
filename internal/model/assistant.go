package model

import (
	"time"

	"github.com/google/uuid"
)

type ActionType string

const (
	ActionEdit    ActionType = "edit"
	ActionComment ActionType = "comment"
)

type ActionStatus string

const (
	ActionPending  ActionStatus = "pending"
	ActionApplied  ActionStatus = "applied"
	ActionRejected ActionStatus = "rejected"
)

// AssistantAction is a proposed edit by the automated participant.
// Lifecycle: pending -> applied (after a simulated typing delay) or rejected.
type AssistantAction struct {
	ID         uuid.UUID    `json:"id"`
	Type       ActionType   `json:"type"`
	FilePath   string       `json:"file_path"`
	Range      *Range       `json:"range,omitempty"`
	Content    string       `json:"content"`
	Reasoning  string       `json:"reasoning"`
	Confidence float64      `json:"confidence"`
	Timestamp  time.Time    `json:"timestamp"`
	Status     ActionStatus `json:"status"`
}

type SuggestionType string

const (
	SuggestionBugFix      SuggestionType = "bug-fix"
	SuggestionStyle       SuggestionType = "style"
	SuggestionRefactor    SuggestionType = "refactor"
	SuggestionPerformance SuggestionType = "performance"
)

type SuggestionPriority string

const (
	PriorityLow    SuggestionPriority = "low"
	PriorityMedium SuggestionPriority = "medium"
	PriorityHigh   SuggestionPriority = "high"
)

// AssistantSuggestion is a non-edit recommendation. Accept and reject are
// both terminal; either way the suggestion leaves the live set.
type AssistantSuggestion struct {
	ID          uuid.UUID          `json:"id"`
	Type        SuggestionType     `json:"type"`
	Priority    SuggestionPriority `json:"priority"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	FilePath    string             `json:"file_path"`
	Position    Position           `json:"position"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}
