package events

// The closed set of event types. Payload keys are documented per constant;
// producers use New with exactly these keys.
const (
	// Session lifecycle. Payload: session_id, document_id, room_id.
	SessionStarted = "session-started"
	SessionEnded   = "session-ended"

	// Roster. Payload: client_id, participant (model.Participant).
	ParticipantJoined  = "participant-joined"
	ParticipantUpdated = "participant-updated"
	ParticipantLeft    = "participant-left"

	// Documents. DocumentUpdated payload: file_path.
	// DocumentChanged payload: client_id, file_path, changes ([]crdt.TextChange).
	DocumentUpdated = "document-updated"
	DocumentChanged = "document-changed"

	// Transport. Error payload: error (string), op.
	Connected    = "connected"
	Disconnected = "disconnected"
	Synced       = "synced"
	Error        = "error"

	// Presence store. StatusChanged payload: participant_id, from, to.
	// PresenceUpdated payload: participant_id, record (model.PresenceRecord).
	StatusChanged   = "status-changed"
	PresenceUpdated = "presence-updated"

	// Comments. Mention payload: thread_id, comment_id, mentioned (client id),
	// author, content.
	ThreadCreated  = "thread-created"
	ThreadResolved = "thread-resolved"
	CommentAdded   = "comment-added"
	Mention        = "mention"

	// Assistant. Payload: action (*model.AssistantAction) or
	// suggestion (*model.AssistantSuggestion), plus status.
	AssistantAction     = "assistant-action"
	AssistantSuggestion = "assistant-suggestion"
)
