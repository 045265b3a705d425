package comments

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"collab-editing-be/internal/model"
)

// snapshotVersion is the only format this build reads and writes.
const snapshotVersion = 1

// Reactions serialize as ordered (emoji, reactors) pairs rather than a
// map, so exports are byte-stable.
type reactionEntry struct {
	Emoji    string `json:"emoji"`
	Reactors []int  `json:"reactors"`
}

type commentSnapshot struct {
	ID        uuid.UUID         `json:"id"`
	Author    model.Participant `json:"author"`
	Content   string            `json:"content"`
	Reactions []reactionEntry   `json:"reactions,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	EditedAt  *time.Time        `json:"edited_at,omitempty"`
}

type threadSnapshot struct {
	ID         uuid.UUID         `json:"id"`
	FilePath   string            `json:"file_path"`
	Range      model.Range       `json:"range"`
	Comments   []commentSnapshot `json:"comments"`
	IsResolved bool              `json:"is_resolved"`
	ResolvedBy *int              `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

type snapshot struct {
	Version    int              `json:"version"`
	ExportedAt time.Time        `json:"exported_at"`
	Threads    []threadSnapshot `json:"threads"`
}

// ExportThreads serializes every thread to a versioned JSON document.
func (s *Store) ExportThreads() ([]byte, error) {
	threads := s.GetAllThreads()
	snap := snapshot{
		Version:    snapshotVersion,
		ExportedAt: time.Now().UTC(),
		Threads:    make([]threadSnapshot, 0, len(threads)),
	}
	for _, t := range threads {
		ts := threadSnapshot{
			ID:         t.ID,
			FilePath:   t.FilePath,
			Range:      t.Range,
			IsResolved: t.IsResolved,
			ResolvedBy: t.ResolvedBy,
			ResolvedAt: t.ResolvedAt,
			CreatedAt:  t.CreatedAt,
			UpdatedAt:  t.UpdatedAt,
			Comments:   make([]commentSnapshot, 0, len(t.Comments)),
		}
		for _, c := range t.Comments {
			ts.Comments = append(ts.Comments, commentSnapshot{
				ID:        c.ID,
				Author:    c.Author,
				Content:   c.Content,
				Reactions: reactionsToEntries(c.Reactions),
				CreatedAt: c.CreatedAt,
				EditedAt:  c.EditedAt,
			})
		}
		snap.Threads = append(snap.Threads, ts)
	}
	return json.MarshalIndent(snap, "", "  ")
}

// ImportThreads restores threads from an export, replacing existing
// threads with the same id. Mentions are recomputed from content, so old
// exports stay compatible with mention parsing changes.
func (s *Store) ImportThreads(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	if snap.Version != snapshotVersion {
		return &model.UnsupportedVersionError{Version: snap.Version}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ts := range snap.Threads {
		if len(ts.Comments) == 0 {
			continue
		}
		if old, ok := s.threads[ts.ID]; ok {
			s.dropFileIndexLocked(old.FilePath, ts.ID)
		}
		thread := &model.CommentThread{
			ID:         ts.ID,
			FilePath:   ts.FilePath,
			Range:      ts.Range,
			IsResolved: ts.IsResolved,
			ResolvedBy: ts.ResolvedBy,
			ResolvedAt: ts.ResolvedAt,
			CreatedAt:  ts.CreatedAt,
			UpdatedAt:  ts.UpdatedAt,
			Comments:   make([]*model.Comment, 0, len(ts.Comments)),
		}
		for _, cs := range ts.Comments {
			thread.Comments = append(thread.Comments, &model.Comment{
				ID:        cs.ID,
				ThreadID:  ts.ID,
				Author:    cs.Author,
				Content:   cs.Content,
				Reactions: entriesToReactions(cs.Reactions),
				Mentions:  extractMentions(cs.Content),
				CreatedAt: cs.CreatedAt,
				EditedAt:  cs.EditedAt,
			})
		}
		s.threads[ts.ID] = thread
		s.byFile[ts.FilePath] = append(s.byFile[ts.FilePath], ts.ID)
	}
	return nil
}

func reactionsToEntries(reactions map[string][]int) []reactionEntry {
	if len(reactions) == 0 {
		return nil
	}
	out := make([]reactionEntry, 0, len(reactions))
	for emoji, ids := range reactions {
		out = append(out, reactionEntry{Emoji: emoji, Reactors: append([]int(nil), ids...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Emoji < out[j].Emoji })
	return out
}

func entriesToReactions(entries []reactionEntry) map[string][]int {
	if len(entries) == 0 {
		return nil
	}
	out := make(map[string][]int, len(entries))
	for _, e := range entries {
		out[e.Emoji] = append([]int(nil), e.Reactors...)
	}
	return out
}
