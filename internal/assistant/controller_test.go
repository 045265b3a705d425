package assistant

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"collab-editing-be/internal/model"
)

type appliedEdit struct {
	clientID int
	path     string
	position int
	deleted  int
	inserted string
}

type fakeSession struct {
	mu        sync.Mutex
	text      map[string]string
	edits     []appliedEdit
	awareness []model.AwarenessState
	left      bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{text: make(map[string]string)}
}

func (f *fakeSession) ApplyChangeAs(clientID int, path string, position, deletedLength int, insertedText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, appliedEdit{clientID, path, position, deletedLength, insertedText})
	runes := []rune(f.text[path])
	if position > len(runes) {
		position = len(runes)
	}
	end := position + deletedLength
	if end > len(runes) {
		end = len(runes)
	}
	f.text[path] = string(runes[:position]) + insertedText + string(runes[end:])
	return nil
}

func (f *fakeSession) PublishAwarenessAs(_ int, state model.AwarenessState, left bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.awareness = append(f.awareness, state)
	if left {
		f.left = true
	}
	return nil
}

func (f *fakeSession) GetText(path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text[path], nil
}

func TestJoinAnnouncesAssistant(t *testing.T) {
	sess := newFakeSession()
	c := NewController(Options{Session: sess})

	assert.NoError(t, c.Join())
	assert.Len(t, sess.awareness, 1)
	assert.Equal(t, assistantName, sess.awareness[0].Name)
	assert.Equal(t, model.RoleEditor, sess.awareness[0].Role)
}

func TestProposeAndApplyEdit(t *testing.T) {
	sess := newFakeSession()
	sess.text["main.go"] = "hello world"
	c := NewController(Options{Session: sess})

	action, err := c.ProposeEdit("main.go", &model.Range{
		Start: model.Position{Line: 0, Character: 6},
		End:   model.Position{Line: 0, Character: 11},
	}, "gopher", "rename the target", 0.8)
	assert.NoError(t, err)
	assert.Equal(t, model.ActionPending, action.Status)

	assert.NoError(t, c.ApplyAction(action.ID))

	text, _ := sess.GetText("main.go")
	assert.Equal(t, "hello gopher", text)
	assert.Equal(t, model.AssistantClientID, sess.edits[0].clientID)
	assert.Equal(t, 6, sess.edits[0].position)
	assert.Equal(t, 5, sess.edits[0].deleted)

	actions := c.GetActions()
	assert.Len(t, actions, 1)
	assert.Equal(t, model.ActionApplied, actions[0].Status)

	// Applying twice fails: the action is no longer pending.
	assert.Error(t, c.ApplyAction(action.ID))
}

func TestApplyNilRangeAppends(t *testing.T) {
	sess := newFakeSession()
	sess.text["a.md"] = "body"
	c := NewController(Options{Session: sess})

	action, _ := c.ProposeEdit("a.md", nil, "\nfooter", "append", 1)
	assert.NoError(t, c.ApplyAction(action.ID))
	text, _ := sess.GetText("a.md")
	assert.Equal(t, "body\nfooter", text)
}

func TestThinkingFlagWrapsApply(t *testing.T) {
	sess := newFakeSession()
	c := NewController(Options{Session: sess})

	action, _ := c.ProposeEdit("a.md", nil, "x", "", 1)
	assert.NoError(t, c.ApplyAction(action.ID))

	// Awareness went out twice: thinking on, then off.
	assert.Len(t, sess.awareness, 2)
	assert.True(t, sess.awareness[0].Thinking)
	assert.False(t, sess.awareness[1].Thinking)
}

func TestRejectAction(t *testing.T) {
	sess := newFakeSession()
	c := NewController(Options{Session: sess})

	action, _ := c.ProposeEdit("a.md", nil, "x", "", 1)
	assert.NoError(t, c.RejectAction(action.ID))
	assert.Error(t, c.RejectAction(action.ID), "rejection is terminal")
	assert.Error(t, c.ApplyAction(action.ID), "rejected actions cannot apply")
	assert.Empty(t, sess.edits)
}

func TestUnknownActionErrors(t *testing.T) {
	c := NewController(Options{Session: newFakeSession()})
	var nf *model.NotFoundError
	assert.ErrorAs(t, c.ApplyAction(uuid.New()), &nf)
	assert.ErrorAs(t, c.RejectAction(uuid.New()), &nf)
}

func TestSuggestionLifecycle(t *testing.T) {
	c := NewController(Options{Session: newFakeSession()})

	low := c.AddSuggestion(model.SuggestionStyle, model.PriorityLow, "nit", "", "a.go", model.Position{})
	high := c.AddSuggestion(model.SuggestionBugFix, model.PriorityHigh, "bug", "", "a.go", model.Position{})

	live := c.GetSuggestions()
	assert.Len(t, live, 2)
	assert.Equal(t, high.ID, live[0].ID, "high priority sorts first")

	assert.NoError(t, c.AcceptSuggestion(high.ID))
	assert.NoError(t, c.RejectSuggestion(low.ID))
	assert.Empty(t, c.GetSuggestions())

	// Both outcomes are terminal.
	var nf *model.NotFoundError
	assert.ErrorAs(t, c.AcceptSuggestion(high.ID), &nf)
}

func TestAnalyzeCode(t *testing.T) {
	sess := newFakeSession()
	sess.text["a.go"] = "package a\n// TODO: fix this\nok := true\n// FIXME broken\n"
	c := NewController(Options{Session: sess})

	found, err := c.AnalyzeCode("a.go")
	assert.NoError(t, err)
	assert.Len(t, found, 2)

	kinds := map[model.SuggestionPriority]int{}
	for _, s := range found {
		kinds[s.Priority]++
	}
	assert.Equal(t, 1, kinds[model.PriorityHigh], "FIXME is high priority")
	assert.Equal(t, 1, kinds[model.PriorityMedium], "TODO is medium priority")
	assert.Len(t, c.GetSuggestions(), 2, "findings land in the live set")
}

func TestGenerateComment(t *testing.T) {
	sess := newFakeSession()
	sess.text["a.go"] = "first line\nsecond line\n"
	c := NewController(Options{Session: sess})

	comment, err := c.GenerateComment("a.go", model.Range{
		Start: model.Position{Line: 0},
		End:   model.Position{Line: 0, Character: 10},
	})
	assert.NoError(t, err)
	assert.Contains(t, comment, "first line")
}

func TestWatchCollaborator(t *testing.T) {
	c := NewController(Options{Session: newFakeSession()})
	assert.Zero(t, c.Watched())
	c.WatchCollaborator(42)
	assert.Equal(t, 42, c.Watched())
	c.WatchCollaborator(0)
	assert.Zero(t, c.Watched())
}

func TestDisposeWithdrawsFromRoom(t *testing.T) {
	sess := newFakeSession()
	c := NewController(Options{Session: sess})
	assert.NoError(t, c.Join())

	c.AddSuggestion(model.SuggestionStyle, model.PriorityLow, "x", "", "a.go", model.Position{})
	c.Dispose()
	c.Dispose() // safe to repeat

	assert.True(t, sess.left)
	assert.Empty(t, c.GetSuggestions())
	assert.Error(t, c.Join(), "disposed controller cannot rejoin")
}
