package comments

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"collab-editing-be/internal/model"
	"collab-editing-be/internal/pkg/logger"
	"collab-editing-be/pkg/events"
)

// mentionPattern matches @<client id> tokens inside comment content.
var mentionPattern = regexp.MustCompile(`@(\d+)`)

// Notifier is told about every mention in new or edited comments. The
// store does not know how the notice is delivered.
type Notifier interface {
	NotifyMention(mentionedID int, author model.Participant, filePath, content string)
}

type Options struct {
	Logger   logger.ILogger
	Bus      *events.Bus
	Notifier Notifier
}

// Store holds comment threads anchored to (file, range) pairs. Anchors are
// creation-time snapshots; the store never listens to document changes.
type Store struct {
	logger   logger.ILogger
	bus      *events.Bus
	notifier Notifier

	mu      sync.Mutex
	threads map[uuid.UUID]*model.CommentThread
	byFile  map[string][]uuid.UUID
}

func NewStore(opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	return &Store{
		logger:   opts.Logger,
		bus:      opts.Bus,
		notifier: opts.Notifier,
		threads:  make(map[uuid.UUID]*model.CommentThread),
		byFile:   make(map[string][]uuid.UUID),
	}
}

// CreateThread opens a new thread with its first comment.
func (s *Store) CreateThread(filePath string, rng model.Range, author model.Participant, content string) (*model.CommentThread, error) {
	if content == "" {
		return nil, &model.ConfigError{Field: "content", Reason: "is required"}
	}
	now := time.Now()
	thread := &model.CommentThread{
		ID:        uuid.New(),
		FilePath:  filePath,
		Range:     rng,
		CreatedAt: now,
		UpdatedAt: now,
	}
	comment := s.newComment(thread.ID, author, content, now)
	thread.Comments = []*model.Comment{comment}

	s.mu.Lock()
	s.threads[thread.ID] = thread
	s.byFile[filePath] = append(s.byFile[filePath], thread.ID)
	snapshot := cloneThread(thread)
	s.mu.Unlock()

	s.emit(events.ThreadCreated, map[string]interface{}{
		"thread_id": thread.ID.String(),
		"file_path": filePath,
		"thread":    snapshot,
	})
	s.fanOutMentions(snapshot.Comments[0], filePath)
	return snapshot, nil
}

// AddComment appends a reply to an existing thread.
func (s *Store) AddComment(threadID uuid.UUID, author model.Participant, content string) (*model.Comment, error) {
	if content == "" {
		return nil, &model.ConfigError{Field: "content", Reason: "is required"}
	}
	now := time.Now()

	s.mu.Lock()
	thread, ok := s.threads[threadID]
	if !ok {
		s.mu.Unlock()
		return nil, &model.NotFoundError{Resource: "thread", ID: threadID.String()}
	}
	comment := s.newComment(threadID, author, content, now)
	thread.Comments = append(thread.Comments, comment)
	thread.UpdatedAt = now
	filePath := thread.FilePath
	snapshot := cloneComment(comment)
	s.mu.Unlock()

	s.emit(events.CommentAdded, map[string]interface{}{
		"thread_id":  threadID.String(),
		"comment_id": comment.ID.String(),
		"comment":    snapshot,
	})
	s.fanOutMentions(snapshot, filePath)
	return snapshot, nil
}

// EditComment replaces a comment's content, stamps EditedAt and recomputes
// mentions from the new text. Newly introduced mentions notify; mentions
// present before the edit do not notify again.
func (s *Store) EditComment(threadID, commentID uuid.UUID, content string) (*model.Comment, error) {
	if content == "" {
		return nil, &model.ConfigError{Field: "content", Reason: "is required"}
	}
	now := time.Now()

	s.mu.Lock()
	thread, comment, err := s.findLocked(threadID, commentID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	before := make(map[int]bool, len(comment.Mentions))
	for _, id := range comment.Mentions {
		before[id] = true
	}
	comment.Content = content
	comment.Mentions = extractMentions(content)
	comment.EditedAt = &now
	thread.UpdatedAt = now
	filePath := thread.FilePath
	var added []int
	for _, id := range comment.Mentions {
		if !before[id] {
			added = append(added, id)
		}
	}
	snapshot := cloneComment(comment)
	author := comment.Author
	s.mu.Unlock()

	s.emit(events.CommentAdded, map[string]interface{}{
		"thread_id":  threadID.String(),
		"comment_id": commentID.String(),
		"comment":    snapshot,
		"edited":     true,
	})
	for _, id := range added {
		s.notifyMention(id, author, filePath, content, threadID, commentID)
	}
	return snapshot, nil
}

// DeleteComment removes one comment. Removing the last comment removes the
// thread itself, including its file index entry.
func (s *Store) DeleteComment(threadID, commentID uuid.UUID) error {
	s.mu.Lock()
	thread, ok := s.threads[threadID]
	if !ok {
		s.mu.Unlock()
		return &model.NotFoundError{Resource: "thread", ID: threadID.String()}
	}
	idx := -1
	for i, c := range thread.Comments {
		if c.ID == commentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return &model.NotFoundError{Resource: "comment", ID: commentID.String()}
	}
	thread.Comments = append(thread.Comments[:idx], thread.Comments[idx+1:]...)
	thread.UpdatedAt = time.Now()
	emptied := len(thread.Comments) == 0
	if emptied {
		delete(s.threads, threadID)
		s.dropFileIndexLocked(thread.FilePath, threadID)
	}
	s.mu.Unlock()

	if emptied {
		s.logger.Info("CommentStore", "Thread removed with last comment", map[string]interface{}{
			"thread_id": threadID.String(),
		})
	}
	return nil
}

// ResolveThread marks a thread resolved by the given participant.
// Resolving an already resolved thread is a no-op.
func (s *Store) ResolveThread(threadID uuid.UUID, resolvedBy int) error {
	now := time.Now()

	s.mu.Lock()
	thread, ok := s.threads[threadID]
	if !ok {
		s.mu.Unlock()
		return &model.NotFoundError{Resource: "thread", ID: threadID.String()}
	}
	if thread.IsResolved {
		s.mu.Unlock()
		return nil
	}
	thread.IsResolved = true
	thread.ResolvedBy = &resolvedBy
	thread.ResolvedAt = &now
	thread.UpdatedAt = now
	s.mu.Unlock()

	s.emit(events.ThreadResolved, map[string]interface{}{
		"thread_id":   threadID.String(),
		"resolved_by": resolvedBy,
	})
	return nil
}

// UnresolveThread reopens a resolved thread, clearing the resolution
// record entirely.
func (s *Store) UnresolveThread(threadID uuid.UUID) error {
	s.mu.Lock()
	thread, ok := s.threads[threadID]
	if !ok {
		s.mu.Unlock()
		return &model.NotFoundError{Resource: "thread", ID: threadID.String()}
	}
	thread.IsResolved = false
	thread.ResolvedBy = nil
	thread.ResolvedAt = nil
	thread.UpdatedAt = time.Now()
	s.mu.Unlock()
	return nil
}

// ToggleReaction adds the reactor to an emoji's set, or removes them when
// already present. An emoji with no reactors left is pruned.
func (s *Store) ToggleReaction(threadID, commentID uuid.UUID, emoji string, reactorID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, comment, err := s.findLocked(threadID, commentID)
	if err != nil {
		return err
	}
	if comment.Reactions == nil {
		comment.Reactions = make(map[string][]int)
	}
	ids := comment.Reactions[emoji]
	for i, id := range ids {
		if id == reactorID {
			ids = append(ids[:i], ids[i+1:]...)
			if len(ids) == 0 {
				delete(comment.Reactions, emoji)
			} else {
				comment.Reactions[emoji] = ids
			}
			return nil
		}
	}
	comment.Reactions[emoji] = append(ids, reactorID)
	return nil
}

// AddReaction records a reactor under an emoji. Reacting twice with the
// same emoji leaves a single entry.
func (s *Store) AddReaction(threadID, commentID uuid.UUID, emoji string, reactorID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, comment, err := s.findLocked(threadID, commentID)
	if err != nil {
		return err
	}
	if comment.Reactions == nil {
		comment.Reactions = make(map[string][]int)
	}
	for _, id := range comment.Reactions[emoji] {
		if id == reactorID {
			return nil
		}
	}
	comment.Reactions[emoji] = append(comment.Reactions[emoji], reactorID)
	return nil
}

// RemoveReaction withdraws a reactor from an emoji, pruning the emoji
// entry when nobody is left. Removing an absent reaction is a no-op.
func (s *Store) RemoveReaction(threadID, commentID uuid.UUID, emoji string, reactorID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, comment, err := s.findLocked(threadID, commentID)
	if err != nil {
		return err
	}
	ids := comment.Reactions[emoji]
	for i, id := range ids {
		if id == reactorID {
			ids = append(ids[:i], ids[i+1:]...)
			if len(ids) == 0 {
				delete(comment.Reactions, emoji)
			} else {
				comment.Reactions[emoji] = ids
			}
			return nil
		}
	}
	return nil
}

// GetThread returns a deep copy of one thread.
func (s *Store) GetThread(threadID uuid.UUID) (*model.CommentThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.threads[threadID]
	if !ok {
		return nil, &model.NotFoundError{Resource: "thread", ID: threadID.String()}
	}
	return cloneThread(thread), nil
}

// GetThreadsForFile returns the file's threads in creation order.
func (s *Store) GetThreadsForFile(filePath string) []*model.CommentThread {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byFile[filePath]
	out := make([]*model.CommentThread, 0, len(ids))
	for _, id := range ids {
		if thread, ok := s.threads[id]; ok {
			out = append(out, cloneThread(thread))
		}
	}
	return out
}

// GetAllThreads returns every thread, oldest first.
func (s *Store) GetAllThreads() []*model.CommentThread {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.CommentThread, 0, len(s.threads))
	for _, thread := range s.threads {
		out = append(out, cloneThread(thread))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// GetUnresolvedThreads filters GetAllThreads down to open threads.
func (s *Store) GetUnresolvedThreads() []*model.CommentThread {
	all := s.GetAllThreads()
	out := all[:0]
	for _, thread := range all {
		if !thread.IsResolved {
			out = append(out, thread)
		}
	}
	return out
}

// ThreadFilter selects threads. Zero-valued fields match everything.
type ThreadFilter struct {
	FilePath      string
	Resolved      *bool
	AuthorID      *int
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

// FilterThreads returns threads matching every set filter field, oldest
// first.
func (s *Store) FilterThreads(f ThreadFilter) []*model.CommentThread {
	all := s.GetAllThreads()
	out := all[:0]
	for _, thread := range all {
		if f.FilePath != "" && thread.FilePath != f.FilePath {
			continue
		}
		if f.Resolved != nil && thread.IsResolved != *f.Resolved {
			continue
		}
		if f.AuthorID != nil && !threadHasAuthor(thread, *f.AuthorID) {
			continue
		}
		if !f.CreatedAfter.IsZero() && thread.CreatedAt.Before(f.CreatedAfter) {
			continue
		}
		if !f.CreatedBefore.IsZero() && thread.CreatedAt.After(f.CreatedBefore) {
			continue
		}
		out = append(out, thread)
	}
	return out
}

func threadHasAuthor(t *model.CommentThread, clientID int) bool {
	for _, c := range t.Comments {
		if c.Author.ClientID == clientID {
			return true
		}
	}
	return false
}

// GetThreadsMentioning returns threads where any comment mentions the
// given client id.
func (s *Store) GetThreadsMentioning(clientID int) []*model.CommentThread {
	all := s.GetAllThreads()
	out := all[:0]
	for _, thread := range all {
		for _, c := range thread.Comments {
			if containsInt(c.Mentions, clientID) {
				out = append(out, thread)
				break
			}
		}
	}
	return out
}

// Clear drops every thread.
func (s *Store) Clear() {
	s.mu.Lock()
	s.threads = make(map[uuid.UUID]*model.CommentThread)
	s.byFile = make(map[string][]uuid.UUID)
	s.mu.Unlock()
}

func (s *Store) newComment(threadID uuid.UUID, author model.Participant, content string, now time.Time) *model.Comment {
	return &model.Comment{
		ID:        uuid.New(),
		ThreadID:  threadID,
		Author:    author,
		Content:   content,
		Mentions:  extractMentions(content),
		CreatedAt: now,
	}
}

// findLocked requires s.mu held.
func (s *Store) findLocked(threadID, commentID uuid.UUID) (*model.CommentThread, *model.Comment, error) {
	thread, ok := s.threads[threadID]
	if !ok {
		return nil, nil, &model.NotFoundError{Resource: "thread", ID: threadID.String()}
	}
	for _, c := range thread.Comments {
		if c.ID == commentID {
			return thread, c, nil
		}
	}
	return nil, nil, &model.NotFoundError{Resource: "comment", ID: commentID.String()}
}

// dropFileIndexLocked requires s.mu held.
func (s *Store) dropFileIndexLocked(filePath string, threadID uuid.UUID) {
	ids := s.byFile[filePath]
	for i, id := range ids {
		if id == threadID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(s.byFile, filePath)
	} else {
		s.byFile[filePath] = ids
	}
}

func (s *Store) fanOutMentions(comment *model.Comment, filePath string) {
	for _, id := range comment.Mentions {
		s.notifyMention(id, comment.Author, filePath, comment.Content, comment.ThreadID, comment.ID)
	}
}

func (s *Store) notifyMention(mentionedID int, author model.Participant, filePath, content string, threadID, commentID uuid.UUID) {
	// Self-mentions are legal to write but never notify.
	if mentionedID == author.ClientID {
		return
	}
	s.emit(events.Mention, map[string]interface{}{
		"thread_id":  threadID.String(),
		"comment_id": commentID.String(),
		"mentioned":  mentionedID,
		"author":     author.Name,
		"content":    content,
	})
	if s.notifier != nil {
		s.notifier.NotifyMention(mentionedID, author, filePath, content)
	}
}

func (s *Store) emit(eventType string, data map[string]interface{}) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(context.Background(), events.New(eventType, data)); err != nil {
		s.logger.Warn("CommentStore", "Event publish failed", map[string]interface{}{
			"event": eventType, "error": err.Error(),
		})
	}
}

// extractMentions parses @<id> tokens, deduplicated in first-seen order.
func extractMentions(content string) []int {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[int]bool, len(matches))
	var out []int
	for _, m := range matches {
		id, err := strconv.Atoi(m[1])
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func containsInt(ids []int, want int) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}

func cloneThread(t *model.CommentThread) *model.CommentThread {
	cp := *t
	cp.Comments = make([]*model.Comment, len(t.Comments))
	for i, c := range t.Comments {
		cp.Comments[i] = cloneComment(c)
	}
	if t.ResolvedBy != nil {
		v := *t.ResolvedBy
		cp.ResolvedBy = &v
	}
	if t.ResolvedAt != nil {
		v := *t.ResolvedAt
		cp.ResolvedAt = &v
	}
	return &cp
}

func cloneComment(c *model.Comment) *model.Comment {
	cp := *c
	cp.Mentions = append([]int(nil), c.Mentions...)
	if c.Reactions != nil {
		cp.Reactions = make(map[string][]int, len(c.Reactions))
		for emoji, ids := range c.Reactions {
			cp.Reactions[emoji] = append([]int(nil), ids...)
		}
	}
	if c.EditedAt != nil {
		v := *c.EditedAt
		cp.EditedAt = &v
	}
	return &cp
}
