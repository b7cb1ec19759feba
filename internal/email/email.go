// Package email sends operator notifications over SMTP.
package email

import (
	"context"
)

// EmailService defines the interface for outbound mail.
type EmailService interface {
	// SendContactMessage forwards a contact-form submission to the support
	// inbox with Reply-To set to the sender.
	SendContactMessage(ctx context.Context, msg ContactMessage) error
}

// ContactMessage is one contact-form submission.
type ContactMessage struct {
	Name    string
	Email   string
	Topic   string
	Message string
}

// Email represents a single plain-text message.
type Email struct {
	To       string
	ReplyTo  string
	Subject  string
	TextBody string
}

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string // SMTP server hostname (e.g., "localhost" for Mailhog)
	Port     int    // SMTP server port (e.g., 1025 for Mailhog)
	Username string // empty for Mailhog
	Password string
	From     string // Default sender email address
	FromName string // Default sender display name
}

const (
	// DefaultFromEmail is the default sender email.
	DefaultFromEmail = "noreply@dentaistudy.com"

	// DefaultFromName is the default sender display name.
	DefaultFromName = "DentAIstudy"
)
