package email

import (
	"context"

	"github.com/gatewarden/gatewarden/internal/config"
)

// Sender is the interface all email providers implement, so providers can be
// swapped without touching the services that notify.
type Sender interface {
	// Send sends an email to the specified recipient.
	Send(ctx context.Context, msg Message) error
}

// Message represents an email message to be sent.
type Message struct {
	To       string // recipient email address
	Subject  string // email subject
	HTMLBody string // HTML email body
	TextBody string // plain-text fallback body
}

// New builds the configured sender. Provider "none" returns nil, which the
// services treat as notifications disabled.
func New(ctx context.Context, cfg config.EmailConfig) (Sender, error) {
	switch cfg.Provider {
	case "gmail":
		if cfg.Gmail.CredentialsJSON != "" {
			return NewGmailSender(ctx, GmailConfig{
				CredentialsJSON: cfg.Gmail.CredentialsJSON,
				SenderAddress:   cfg.Gmail.SenderAddress,
				SenderName:      cfg.Gmail.SenderName,
			})
		}
		return NewGmailSenderWithToken(ctx,
			cfg.Gmail.ClientID,
			cfg.Gmail.ClientSecret,
			cfg.Gmail.RefreshToken,
			cfg.Gmail.SenderAddress,
			cfg.Gmail.SenderName,
		)
	}
	return nil, nil
}
