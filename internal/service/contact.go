package service

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/DukeRupert/dentaistudy/internal/domain"
	"github.com/DukeRupert/dentaistudy/internal/email"
)

// Contact form limits.
const (
	MaxContactNameLength    = 200
	MaxContactTopicLength   = 100
	MaxContactMessageLength = 5000
)

// ContactService forwards contact-form submissions.
type ContactService interface {
	Send(ctx context.Context, msg email.ContactMessage) error
}

type contactService struct {
	mailer email.EmailService
	logger *slog.Logger
}

// NewContactService creates a new ContactService. mailer may be nil when
// SMTP is not configured; Send then reports EUNAVAILABLE.
func NewContactService(mailer email.EmailService, logger *slog.Logger) ContactService {
	return &contactService{mailer: mailer, logger: logger}
}

// Send implements ContactService.
func (s *contactService) Send(ctx context.Context, msg email.ContactMessage) error {
	const op = "ContactService.Send"

	msg.Name = strings.TrimSpace(msg.Name)
	msg.Email = strings.TrimSpace(msg.Email)
	msg.Topic = strings.TrimSpace(msg.Topic)
	msg.Message = strings.TrimSpace(msg.Message)

	fields := map[string]string{}
	if msg.Name == "" {
		fields["name"] = "Name is required"
	} else if len(msg.Name) > MaxContactNameLength {
		fields["name"] = "Name is too long"
	}
	if msg.Email == "" {
		fields["email"] = "Email is required"
	} else if _, err := mail.ParseAddress(msg.Email); err != nil {
		fields["email"] = "Email is invalid"
	}
	if len(msg.Topic) > MaxContactTopicLength {
		fields["topic"] = "Topic is too long"
	}
	if msg.Message == "" {
		fields["message"] = "Message is required"
	} else if len(msg.Message) > MaxContactMessageLength {
		fields["message"] = "Message is too long"
	}
	if len(fields) > 0 {
		return &domain.ValidationError{Op: op, Fields: fields}
	}

	if s.mailer == nil {
		return domain.Unavailable(nil, op, "Contact form is not available")
	}
	if err := s.mailer.SendContactMessage(ctx, msg); err != nil {
		return domain.Internal(err, op, "Failed to send message")
	}

	s.logger.Info("contact message forwarded", "topic", msg.Topic)
	return nil
}
