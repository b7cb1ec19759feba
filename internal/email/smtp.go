package email

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/mail"
	"net/smtp"
	"strings"
	"time"
)

// SMTPEmailService sends emails via SMTP (Mailhog in development, any
// authenticated relay in production).
type SMTPEmailService struct {
	config SMTPConfig
	to     string // support inbox for contact messages
	logger *slog.Logger

	// sendMail is smtp.SendMail, replaced in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now      func() time.Time
}

// NewSMTPEmailService creates a new SMTP-based email service. contactTo is
// the inbox that receives contact-form messages.
func NewSMTPEmailService(config SMTPConfig, contactTo string, logger *slog.Logger) (*SMTPEmailService, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if _, err := mail.ParseAddress(contactTo); err != nil {
		return nil, fmt.Errorf("invalid contact address %q: %w", contactTo, err)
	}
	if config.From == "" {
		config.From = DefaultFromEmail
	}
	if config.FromName == "" {
		config.FromName = DefaultFromName
	}

	return &SMTPEmailService{
		config:   config,
		to:       contactTo,
		logger:   logger,
		sendMail: smtp.SendMail,
		now:      time.Now,
	}, nil
}

// SendContactMessage implements EmailService.
func (s *SMTPEmailService) SendContactMessage(ctx context.Context, msg ContactMessage) error {
	topic := msg.Topic
	if topic == "" {
		topic = "General"
	}

	body := fmt.Sprintf(`New contact form message

Name: %s
Email: %s
Topic: %s

%s
`, msg.Name, msg.Email, topic, msg.Message)

	return s.send(ctx, Email{
		To:       s.to,
		ReplyTo:  msg.Email,
		Subject:  fmt.Sprintf("[Contact] %s: %s", topic, msg.Name),
		TextBody: body,
	})
}

// send sends an email via SMTP.
func (s *SMTPEmailService) send(ctx context.Context, email Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := s.buildMessage(email)
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	var auth smtp.Auth
	if s.config.Username != "" && s.config.Password != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	if err := s.sendMail(addr, auth, s.config.From, []string{email.To}, msg); err != nil {
		s.logger.Error("failed to send email", "subject", email.Subject, "error", err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent", "subject", email.Subject)
	return nil
}

// buildMessage constructs the raw message. Header values are stripped of
// line breaks and non-ASCII text is RFC 2047 encoded.
func (s *SMTPEmailService) buildMessage(email Email) []byte {
	var buf bytes.Buffer

	from := mail.Address{Name: s.config.FromName, Address: s.config.From}
	fmt.Fprintf(&buf, "From: %s\r\n", from.String())
	fmt.Fprintf(&buf, "To: %s\r\n", headerValue(email.To))
	if email.ReplyTo != "" {
		fmt.Fprintf(&buf, "Reply-To: %s\r\n", headerValue(email.ReplyTo))
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", headerValue(email.Subject)))
	fmt.Fprintf(&buf, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(email.TextBody, "\n", "\r\n"))

	return buf.Bytes()
}

func headerValue(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(strings.TrimSpace(v))
}

var _ EmailService = (*SMTPEmailService)(nil)
