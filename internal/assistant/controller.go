package assistant

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"collab-editing-be/internal/model"
	"collab-editing-be/internal/pkg/logger"
	"collab-editing-be/pkg/events"
)

const (
	// typingDelayPerRune simulates the assistant typing rather than pasting.
	typingDelayPerRune = 5 * time.Millisecond
	// maxTypingDelay caps the simulation for large edits.
	maxTypingDelay = 1500 * time.Millisecond

	assistantName = "Assistant"
)

// Session is the slice of the session engine the assistant drives. All
// mutations are attributed to the reserved assistant client id, so peers
// see the assistant as a participant of its own.
type Session interface {
	ApplyChangeAs(clientID int, path string, position, deletedLength int, insertedText string) error
	PublishAwarenessAs(clientID int, state model.AwarenessState, left bool) error
	GetText(path string) (string, error)
}

type Options struct {
	Logger  logger.ILogger
	Bus     *events.Bus
	Session Session
}

// Controller runs the automated participant: it proposes edits and
// suggestions, applies accepted actions as its own roster identity and
// signals a thinking state through awareness while it works.
type Controller struct {
	logger  logger.ILogger
	bus     *events.Bus
	session Session

	mu          sync.Mutex
	actions     map[uuid.UUID]*model.AssistantAction
	suggestions map[uuid.UUID]*model.AssistantSuggestion
	watched     int
	joined      bool
	disposed    bool
}

func NewController(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	return &Controller{
		logger:      opts.Logger,
		bus:         opts.Bus,
		session:     opts.Session,
		actions:     make(map[uuid.UUID]*model.AssistantAction),
		suggestions: make(map[uuid.UUID]*model.AssistantSuggestion),
	}
}

// Join announces the assistant to the room as a regular participant.
func (c *Controller) Join() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return fmt.Errorf("assistant disposed")
	}
	c.joined = true
	c.mu.Unlock()

	return c.session.PublishAwarenessAs(model.AssistantClientID, model.AwarenessState{
		Name:  assistantName,
		Color: model.ColorForClient(model.AssistantClientID),
		Role:  model.RoleEditor,
	}, false)
}

// ProposeEdit records a pending edit action. Nothing touches the document
// until the action is applied.
func (c *Controller) ProposeEdit(filePath string, rng *model.Range, content, reasoning string, confidence float64) (*model.AssistantAction, error) {
	action := &model.AssistantAction{
		ID:         uuid.New(),
		Type:       model.ActionEdit,
		FilePath:   filePath,
		Range:      rng,
		Content:    content,
		Reasoning:  reasoning,
		Confidence: confidence,
		Timestamp:  time.Now(),
		Status:     model.ActionPending,
	}
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, fmt.Errorf("assistant disposed")
	}
	c.actions[action.ID] = action
	snapshot := *action
	c.mu.Unlock()

	c.emit(events.AssistantAction, map[string]interface{}{
		"action": snapshot,
		"status": string(model.ActionPending),
	})
	return &snapshot, nil
}

// ApplyAction executes a pending action as the assistant participant. The
// edit lands after a capped typing-speed delay, with the thinking flag
// raised for its duration. Only pending actions can be applied.
func (c *Controller) ApplyAction(actionID uuid.UUID) error {
	c.mu.Lock()
	action, ok := c.actions[actionID]
	if !ok {
		c.mu.Unlock()
		return &model.NotFoundError{Resource: "action", ID: actionID.String()}
	}
	if action.Status != model.ActionPending {
		c.mu.Unlock()
		return fmt.Errorf("action %s is %s, not pending", actionID, action.Status)
	}
	work := *action
	c.mu.Unlock()

	c.setThinking(true, work.FilePath, work.Range)
	defer c.setThinking(false, "", nil)

	delay := typingDelayPerRune * time.Duration(len(work.Content))
	if delay > maxTypingDelay {
		delay = maxTypingDelay
	}
	time.Sleep(delay)

	text, err := c.session.GetText(work.FilePath)
	if err != nil {
		return err
	}
	position, deleted := editSpan(text, work.Range)
	if err := c.session.ApplyChangeAs(model.AssistantClientID, work.FilePath, position, deleted, work.Content); err != nil {
		return err
	}

	c.mu.Lock()
	if action, ok := c.actions[actionID]; ok {
		action.Status = model.ActionApplied
		work = *action
	}
	c.mu.Unlock()

	c.logger.Info("Assistant", "Action applied", map[string]interface{}{
		"action_id": actionID.String(),
		"file_path": work.FilePath,
	})
	c.emit(events.AssistantAction, map[string]interface{}{
		"action": work,
		"status": string(model.ActionApplied),
	})
	return nil
}

// RejectAction marks a pending action rejected. Terminal.
func (c *Controller) RejectAction(actionID uuid.UUID) error {
	c.mu.Lock()
	action, ok := c.actions[actionID]
	if !ok {
		c.mu.Unlock()
		return &model.NotFoundError{Resource: "action", ID: actionID.String()}
	}
	if action.Status != model.ActionPending {
		c.mu.Unlock()
		return fmt.Errorf("action %s is %s, not pending", actionID, action.Status)
	}
	action.Status = model.ActionRejected
	snapshot := *action
	c.mu.Unlock()

	c.emit(events.AssistantAction, map[string]interface{}{
		"action": snapshot,
		"status": string(model.ActionRejected),
	})
	return nil
}

// GetActions returns every recorded action, newest first.
func (c *Controller) GetActions() []model.AssistantAction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.AssistantAction, 0, len(c.actions))
	for _, a := range c.actions {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// AddSuggestion records a non-edit recommendation in the live set.
func (c *Controller) AddSuggestion(kind model.SuggestionType, priority model.SuggestionPriority, title, description, filePath string, at model.Position) *model.AssistantSuggestion {
	now := time.Now()
	sug := &model.AssistantSuggestion{
		ID:          uuid.New(),
		Type:        kind,
		Priority:    priority,
		Title:       title,
		Description: description,
		FilePath:    filePath,
		Position:    at,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	c.mu.Lock()
	c.suggestions[sug.ID] = sug
	snapshot := *sug
	c.mu.Unlock()

	c.emit(events.AssistantSuggestion, map[string]interface{}{
		"suggestion": snapshot,
		"status":     "open",
	})
	return &snapshot
}

// AcceptSuggestion removes a suggestion from the live set. Terminal, like
// rejection; acceptance only differs in the event it emits.
func (c *Controller) AcceptSuggestion(id uuid.UUID) error {
	return c.closeSuggestion(id, "accepted")
}

// RejectSuggestion removes a suggestion from the live set.
func (c *Controller) RejectSuggestion(id uuid.UUID) error {
	return c.closeSuggestion(id, "rejected")
}

func (c *Controller) closeSuggestion(id uuid.UUID, status string) error {
	c.mu.Lock()
	sug, ok := c.suggestions[id]
	if !ok {
		c.mu.Unlock()
		return &model.NotFoundError{Resource: "suggestion", ID: id.String()}
	}
	delete(c.suggestions, id)
	snapshot := *sug
	c.mu.Unlock()

	c.emit(events.AssistantSuggestion, map[string]interface{}{
		"suggestion": snapshot,
		"status":     status,
	})
	return nil
}

// GetSuggestions returns the live set ordered by priority, then age.
func (c *Controller) GetSuggestions() []model.AssistantSuggestion {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.AssistantSuggestion, 0, len(c.suggestions))
	for _, s := range c.suggestions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := priorityWeight(out[i].Priority), priorityWeight(out[j].Priority)
		if pi != pj {
			return pi > pj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// WatchCollaborator points the assistant's attention at one participant.
// Zero clears the watch.
func (c *Controller) WatchCollaborator(clientID int) {
	c.mu.Lock()
	c.watched = clientID
	c.mu.Unlock()
}

// Watched returns the currently watched client id, zero when none.
func (c *Controller) Watched() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watched
}

// Clear drops all recorded actions and live suggestions.
func (c *Controller) Clear() {
	c.mu.Lock()
	c.actions = make(map[uuid.UUID]*model.AssistantAction)
	c.suggestions = make(map[uuid.UUID]*model.AssistantSuggestion)
	c.mu.Unlock()
}

// Dispose withdraws the assistant from the room. Safe to call repeatedly.
func (c *Controller) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	joined := c.joined
	c.actions = make(map[uuid.UUID]*model.AssistantAction)
	c.suggestions = make(map[uuid.UUID]*model.AssistantSuggestion)
	c.mu.Unlock()

	if joined {
		if err := c.session.PublishAwarenessAs(model.AssistantClientID, model.AwarenessState{}, true); err != nil {
			c.logger.Warn("Assistant", "Departure publish failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

// setThinking flips the awareness thinking flag, parking the assistant's
// cursor at the work site while raised.
func (c *Controller) setThinking(on bool, filePath string, rng *model.Range) {
	state := model.AwarenessState{
		Name:     assistantName,
		Color:    model.ColorForClient(model.AssistantClientID),
		Role:     model.RoleEditor,
		Thinking: on,
	}
	if on && filePath != "" && rng != nil {
		state.Cursor = &model.Cursor{
			FilePath:  filePath,
			Line:      rng.Start.Line,
			Character: rng.Start.Character,
		}
	}
	if err := c.session.PublishAwarenessAs(model.AssistantClientID, state, false); err != nil {
		c.logger.Warn("Assistant", "Awareness publish failed", map[string]interface{}{"error": err.Error()})
	}
}

func (c *Controller) emit(eventType string, data map[string]interface{}) {
	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(context.Background(), events.New(eventType, data)); err != nil {
		c.logger.Warn("Assistant", "Event publish failed", map[string]interface{}{
			"event": eventType, "error": err.Error(),
		})
	}
}

func priorityWeight(p model.SuggestionPriority) int {
	switch p {
	case model.PriorityHigh:
		return 3
	case model.PriorityMedium:
		return 2
	default:
		return 1
	}
}

// editSpan converts a line/character range into a rune offset and deletion
// length against the current text. A nil range appends at the end.
func editSpan(text string, rng *model.Range) (position, deleted int) {
	runes := []rune(text)
	if rng == nil {
		return len(runes), 0
	}
	start := offsetForPosition(runes, rng.Start)
	end := offsetForPosition(runes, rng.End)
	if end < start {
		end = start
	}
	return start, end - start
}

func offsetForPosition(runes []rune, pos model.Position) int {
	line, col := 0, 0
	for i, r := range runes {
		if line == pos.Line && col == pos.Character {
			return i
		}
		if line > pos.Line {
			return i
		}
		if r == '\n' {
			line++
			col = 0
		} else {
			col++
		}
	}
	return len(runes)
}

// AnalyzeCode runs lightweight static heuristics over the current text and
// files the findings as live suggestions.
func (c *Controller) AnalyzeCode(filePath string) ([]model.AssistantSuggestion, error) {
	text, err := c.session.GetText(filePath)
	if err != nil {
		return nil, err
	}
	var out []model.AssistantSuggestion
	for i, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.Contains(trimmed, "FIXME"):
			out = append(out, *c.AddSuggestion(model.SuggestionBugFix, model.PriorityHigh,
				"Unresolved FIXME", "This line carries a FIXME marker.",
				filePath, model.Position{Line: i}))
		case strings.Contains(trimmed, "TODO"):
			out = append(out, *c.AddSuggestion(model.SuggestionBugFix, model.PriorityMedium,
				"Unresolved TODO", "This line carries a TODO marker.",
				filePath, model.Position{Line: i}))
		case len(line) > 120:
			out = append(out, *c.AddSuggestion(model.SuggestionStyle, model.PriorityLow,
				"Long line", fmt.Sprintf("Line is %d characters; consider wrapping.", len(line)),
				filePath, model.Position{Line: i, Character: 120}))
		case line != strings.TrimRight(line, " \t"):
			out = append(out, *c.AddSuggestion(model.SuggestionStyle, model.PriorityLow,
				"Trailing whitespace", "This line ends with whitespace.",
				filePath, model.Position{Line: i, Character: len(strings.TrimRight(line, " \t"))}))
		}
	}
	return out, nil
}

// GenerateComment drafts a review comment for a range of the document.
func (c *Controller) GenerateComment(filePath string, rng model.Range) (string, error) {
	text, err := c.session.GetText(filePath)
	if err != nil {
		return "", err
	}
	runes := []rune(text)
	start := offsetForPosition(runes, rng.Start)
	end := offsetForPosition(runes, rng.End)
	if end < start {
		end = start
	}
	excerpt := strings.TrimSpace(string(runes[start:end]))
	if excerpt == "" {
		return fmt.Sprintf("Looking at lines %d-%d of %s.", rng.Start.Line+1, rng.End.Line+1, filePath), nil
	}
	if len(excerpt) > 60 {
		excerpt = excerpt[:60] + "..."
	}
	return fmt.Sprintf("Regarding %q (lines %d-%d): worth a second look.", excerpt, rng.Start.Line+1, rng.End.Line+1), nil
}

// ProvideAssistance answers a free-form question about a file with a
// canned heuristic response keyed on the question's intent.
func (c *Controller) ProvideAssistance(filePath, query string) (string, error) {
	if _, err := c.session.GetText(filePath); err != nil {
		return "", err
	}
	q := strings.ToLower(query)
	switch {
	case strings.Contains(q, "bug") || strings.Contains(q, "error"):
		return "Run the analysis pass; I flag FIXME and TODO markers as likely trouble spots.", nil
	case strings.Contains(q, "refactor"):
		return "Start with the longest lines and repeated blocks; I can propose edits for them.", nil
	default:
		return fmt.Sprintf("I'm watching %s. Ask me to analyze it or propose a specific edit.", filePath), nil
	}
}
