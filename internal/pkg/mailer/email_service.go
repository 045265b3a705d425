package mailer

import (
	"fmt"

	"gopkg.in/gomail.v2"
)

type IEmailService interface {
	SendMentionNotice(toEmail, mentionedBy, filePath, content string) error
}

type emailService struct {
	dialer      *gomail.Dialer
	senderEmail string
}

func NewEmailService(host string, port int, username, password, senderEmail string) IEmailService {
	d := gomail.NewDialer(host, port, username, password)

	return &emailService{
		dialer:      d,
		senderEmail: senderEmail,
	}
}

// SendMentionNotice mails a participant when a comment mentions them.
func (s *emailService) SendMentionNotice(toEmail, mentionedBy, filePath, content string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.senderEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", fmt.Sprintf("%s mentioned you in %s", mentionedBy, filePath))

	body := fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">
			<p><strong>%s</strong> mentioned you in a comment on <code>%s</code>:</p>
			<blockquote style="border-left: 3px solid #61afef; padding-left: 12px; color: #555;">%s</blockquote>
		</div>
	`, mentionedBy, filePath, content)

	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send mention notice to %s: %w", toEmail, err)
	}
	return nil
}
