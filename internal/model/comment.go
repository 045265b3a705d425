package model

import (
	"time"

	"github.com/google/uuid"
)

// CommentThread anchors an ordered list of comments to a (file, range) pair.
// The anchor is a creation-time snapshot: it is not re-positioned when the
// surrounding text shifts.
type CommentThread struct {
	ID         uuid.UUID  `json:"id"`
	FilePath   string     `json:"file_path"`
	Range      Range      `json:"range"`
	Comments   []*Comment `json:"comments"`
	IsResolved bool       `json:"is_resolved"`
	ResolvedBy *int       `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type Comment struct {
	ID       uuid.UUID   `json:"id"`
	ThreadID uuid.UUID   `json:"thread_id"`
	Author   Participant `json:"author"` // snapshot at creation time
	Content  string      `json:"content"`
	// Reactions maps emoji to the deduplicated list of reactor client ids.
	Reactions map[string][]int `json:"-"`
	// Mentions holds client ids parsed from @<id> tokens, recomputed on
	// every content change.
	Mentions  []int      `json:"mentions"`
	CreatedAt time.Time  `json:"created_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
}
