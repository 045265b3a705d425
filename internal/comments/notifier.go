package comments

import (
	"collab-editing-be/internal/model"
	"collab-editing-be/internal/pkg/logger"
	"collab-editing-be/internal/pkg/mailer"
)

// ParticipantLookup resolves a client id to a roster snapshot; the session
// engine's GetParticipant satisfies it.
type ParticipantLookup func(clientID int) (model.Participant, bool)

// EmailNotifier bridges mention fan-out to the mailer. Participants
// without a known address are skipped silently.
type EmailNotifier struct {
	mail   mailer.IEmailService
	lookup ParticipantLookup
	logger logger.ILogger
}

func NewEmailNotifier(mail mailer.IEmailService, lookup ParticipantLookup, log logger.ILogger) *EmailNotifier {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &EmailNotifier{mail: mail, lookup: lookup, logger: log}
}

// NotifyMention sends the notice off the caller's goroutine; comment
// writes never wait on SMTP.
func (n *EmailNotifier) NotifyMention(mentionedID int, author model.Participant, filePath, content string) {
	p, ok := n.lookup(mentionedID)
	if !ok || p.Email == "" {
		return
	}
	go func() {
		if err := n.mail.SendMentionNotice(p.Email, author.Name, filePath, content); err != nil {
			n.logger.Warn("CommentStore", "Mention mail failed", map[string]interface{}{
				"mentioned": mentionedID, "error": err.Error(),
			})
		}
	}()
}
