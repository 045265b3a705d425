package comments

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"collab-editing-be/internal/model"
)

func author(id int, name string) model.Participant {
	return model.Participant{ClientID: id, Name: name, Color: model.ColorForClient(id)}
}

func TestCreateThreadAndReply(t *testing.T) {
	s := NewStore(Options{})

	thread, err := s.CreateThread("main.go", model.Range{
		Start: model.Position{Line: 3}, End: model.Position{Line: 5},
	}, author(1, "Alice"), "first!")
	assert.NoError(t, err)
	assert.Len(t, thread.Comments, 1)
	assert.False(t, thread.IsResolved)

	_, err = s.AddComment(thread.ID, author(2, "Bob"), "reply")
	assert.NoError(t, err)

	got, err := s.GetThread(thread.ID)
	assert.NoError(t, err)
	assert.Len(t, got.Comments, 2)
	assert.Equal(t, "Alice", got.Comments[0].Author.Name)
}

func TestEmptyContentRejected(t *testing.T) {
	s := NewStore(Options{})
	_, err := s.CreateThread("a.go", model.Range{}, author(1, "A"), "")
	var cfgErr *model.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestUnknownThreadErrors(t *testing.T) {
	s := NewStore(Options{})
	_, err := s.AddComment(uuid.New(), author(1, "A"), "hi")
	var nf *model.NotFoundError
	assert.ErrorAs(t, err, &nf)
	assert.ErrorAs(t, s.ResolveThread(uuid.New(), 1), &nf)
}

func TestMentionExtraction(t *testing.T) {
	s := NewStore(Options{})
	thread, err := s.CreateThread("a.go", model.Range{}, author(1, "A"), "ping @42 and @7, also @42 again")
	assert.NoError(t, err)
	assert.Equal(t, []int{42, 7}, thread.Comments[0].Mentions)
}

func TestEditRecomputesMentions(t *testing.T) {
	s := NewStore(Options{})
	thread, _ := s.CreateThread("a.go", model.Range{}, author(1, "A"), "hello @2")
	commentID := thread.Comments[0].ID

	edited, err := s.EditComment(thread.ID, commentID, "now for @3 instead")
	assert.NoError(t, err)
	assert.Equal(t, []int{3}, edited.Mentions)
	assert.NotNil(t, edited.EditedAt)
}

func TestMentionNotifierSkipsSelf(t *testing.T) {
	var mu sync.Mutex
	var notified []int
	s := NewStore(Options{Notifier: notifierFunc(func(id int, _ model.Participant, _, _ string) {
		mu.Lock()
		notified = append(notified, id)
		mu.Unlock()
	})})

	_, err := s.CreateThread("a.go", model.Range{}, author(5, "A"), "note to @5 and @6")
	assert.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{6}, notified, "self-mention must not notify")
}

type notifierFunc func(int, model.Participant, string, string)

func (f notifierFunc) NotifyMention(id int, a model.Participant, path, content string) {
	f(id, a, path, content)
}

func TestMentionNotifierSeesWriteTimeContent(t *testing.T) {
	var mu sync.Mutex
	var notified []string
	s := NewStore(Options{Notifier: notifierFunc(func(_ int, _ model.Participant, _, content string) {
		mu.Lock()
		notified = append(notified, content)
		mu.Unlock()
	})})
	thread, _ := s.CreateThread("a.go", model.Range{}, author(1, "A"), "seed")

	// Concurrent edits must not leak into the notification for the
	// content that carried the mention.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := s.AddComment(thread.ID, author(1, "A"), fmt.Sprintf("ping @2 n%d", i))
			assert.NoError(t, err)
			_, err = s.EditComment(thread.ID, c.ID, fmt.Sprintf("revised n%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, notified, 16)
	for _, content := range notified {
		assert.Contains(t, content, "ping @2")
	}
}

func TestDeleteLastCommentRemovesThread(t *testing.T) {
	s := NewStore(Options{})
	thread, _ := s.CreateThread("a.go", model.Range{}, author(1, "A"), "one")
	c2, _ := s.AddComment(thread.ID, author(2, "B"), "two")

	assert.NoError(t, s.DeleteComment(thread.ID, c2.ID))
	got, err := s.GetThread(thread.ID)
	assert.NoError(t, err)
	assert.Len(t, got.Comments, 1)

	assert.NoError(t, s.DeleteComment(thread.ID, got.Comments[0].ID))
	_, err = s.GetThread(thread.ID)
	assert.Error(t, err)
	assert.Empty(t, s.GetThreadsForFile("a.go"))
}

func TestResolveUnresolve(t *testing.T) {
	s := NewStore(Options{})
	thread, _ := s.CreateThread("a.go", model.Range{}, author(1, "A"), "open me")

	assert.NoError(t, s.ResolveThread(thread.ID, 9))
	got, _ := s.GetThread(thread.ID)
	assert.True(t, got.IsResolved)
	assert.Equal(t, 9, *got.ResolvedBy)
	assert.NotNil(t, got.ResolvedAt)

	// Resolving twice is a no-op, not an error.
	assert.NoError(t, s.ResolveThread(thread.ID, 10))
	got, _ = s.GetThread(thread.ID)
	assert.Equal(t, 9, *got.ResolvedBy)

	assert.NoError(t, s.UnresolveThread(thread.ID))
	got, _ = s.GetThread(thread.ID)
	assert.False(t, got.IsResolved)
	assert.Nil(t, got.ResolvedBy)
	assert.Nil(t, got.ResolvedAt)
}

func TestReactionsToggleAndPrune(t *testing.T) {
	s := NewStore(Options{})
	thread, _ := s.CreateThread("a.go", model.Range{}, author(1, "A"), "react to me")
	commentID := thread.Comments[0].ID

	assert.NoError(t, s.ToggleReaction(thread.ID, commentID, "👍", 2))
	assert.NoError(t, s.ToggleReaction(thread.ID, commentID, "👍", 3))
	got, _ := s.GetThread(thread.ID)
	assert.Equal(t, []int{2, 3}, got.Comments[0].Reactions["👍"])

	// Toggling again removes the reactor; an emptied emoji is pruned.
	assert.NoError(t, s.ToggleReaction(thread.ID, commentID, "👍", 2))
	assert.NoError(t, s.ToggleReaction(thread.ID, commentID, "👍", 3))
	got, _ = s.GetThread(thread.ID)
	assert.NotContains(t, got.Comments[0].Reactions, "👍")
}

func TestAddRemoveReaction(t *testing.T) {
	s := NewStore(Options{})
	thread, _ := s.CreateThread("a.go", model.Range{}, author(1, "A"), "react")
	commentID := thread.Comments[0].ID

	assert.NoError(t, s.AddReaction(thread.ID, commentID, "🚀", 2))
	assert.NoError(t, s.AddReaction(thread.ID, commentID, "🚀", 2))
	got, _ := s.GetThread(thread.ID)
	assert.Equal(t, []int{2}, got.Comments[0].Reactions["🚀"], "duplicate add collapses")

	assert.NoError(t, s.RemoveReaction(thread.ID, commentID, "🚀", 9))
	got, _ = s.GetThread(thread.ID)
	assert.Equal(t, []int{2}, got.Comments[0].Reactions["🚀"], "absent reactor is a no-op")

	assert.NoError(t, s.RemoveReaction(thread.ID, commentID, "🚀", 2))
	got, _ = s.GetThread(thread.ID)
	assert.NotContains(t, got.Comments[0].Reactions, "🚀")
}

func TestThreadQueries(t *testing.T) {
	s := NewStore(Options{})
	t1, _ := s.CreateThread("a.go", model.Range{}, author(1, "A"), "for @2")
	t2, _ := s.CreateThread("b.go", model.Range{}, author(1, "A"), "plain")
	assert.NoError(t, s.ResolveThread(t2.ID, 1))

	assert.Len(t, s.GetAllThreads(), 2)
	assert.Len(t, s.GetUnresolvedThreads(), 1)
	assert.Len(t, s.GetThreadsForFile("a.go"), 1)

	mentioning := s.GetThreadsMentioning(2)
	assert.Len(t, mentioning, 1)
	assert.Equal(t, t1.ID, mentioning[0].ID)
}

func TestFilterThreads(t *testing.T) {
	s := NewStore(Options{})
	t1, _ := s.CreateThread("a.go", model.Range{}, author(1, "A"), "one")
	t2, _ := s.CreateThread("b.go", model.Range{}, author(2, "B"), "two")
	s.AddComment(t2.ID, author(1, "A"), "reply by 1")
	s.ResolveThread(t1.ID, 1)

	resolved := true
	assert.Len(t, s.FilterThreads(ThreadFilter{Resolved: &resolved}), 1)

	authorID := 1
	// Author matches replies too, not just the thread opener.
	assert.Len(t, s.FilterThreads(ThreadFilter{AuthorID: &authorID}), 2)

	assert.Len(t, s.FilterThreads(ThreadFilter{FilePath: "b.go", AuthorID: &authorID}), 1)

	got := s.FilterThreads(ThreadFilter{CreatedAfter: t1.CreatedAt.Add(-1)})
	assert.Len(t, got, 2)
	assert.Empty(t, s.FilterThreads(ThreadFilter{CreatedBefore: t1.CreatedAt.Add(-1)}))
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := NewStore(Options{})
	thread, _ := s.CreateThread("a.go", model.Range{
		Start: model.Position{Line: 1, Character: 2},
	}, author(1, "Alice"), "hello @2")
	s.AddComment(thread.ID, author(2, "Bob"), "hi back")
	s.ToggleReaction(thread.ID, thread.Comments[0].ID, "🎉", 2)
	s.ResolveThread(thread.ID, 2)

	data, err := s.ExportThreads()
	assert.NoError(t, err)

	restored := NewStore(Options{})
	assert.NoError(t, restored.ImportThreads(data))

	got, err := restored.GetThread(thread.ID)
	assert.NoError(t, err)
	assert.Len(t, got.Comments, 2)
	assert.True(t, got.IsResolved)
	assert.Equal(t, 2, *got.ResolvedBy)
	assert.Equal(t, []int{2}, got.Comments[0].Reactions["🎉"])
	// Mentions come back from re-parsing the content.
	assert.Equal(t, []int{2}, got.Comments[0].Mentions)
	assert.Len(t, restored.GetThreadsForFile("a.go"), 1)
}

func TestImportRejectsUnknownVersion(t *testing.T) {
	s := NewStore(Options{})
	err := s.ImportThreads([]byte(fmt.Sprintf(`{"version": %d, "threads": []}`, snapshotVersion+1)))
	var vErr *model.UnsupportedVersionError
	assert.ErrorAs(t, err, &vErr)
}
