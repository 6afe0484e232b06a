package email

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailConfig configures the Gmail API sender.
type GmailConfig struct {
	// CredentialsJSON is the service account or OAuth2 credentials JSON.
	CredentialsJSON string
	// SenderAddress is the mailbox alert and OTP mail is sent from.
	SenderAddress string
	// SenderName is the display name on outgoing mail.
	SenderName string
}

// GmailSender delivers Messages through the Gmail API.
type GmailSender struct {
	service *gmail.Service
	from    string
}

// NewGmailSender builds a sender from service account credentials with
// domain-wide delegation, impersonating the configured sender mailbox.
func NewGmailSender(ctx context.Context, cfg GmailConfig) (*GmailSender, error) {
	if cfg.CredentialsJSON == "" {
		return nil, fmt.Errorf("gmail: credentials JSON is required")
	}
	if cfg.SenderAddress == "" {
		return nil, fmt.Errorf("gmail: sender address is required")
	}

	jwtConfig, err := google.JWTConfigFromJSON([]byte(cfg.CredentialsJSON), gmail.GmailSendScope)
	if err != nil {
		return nil, fmt.Errorf("gmail: failed to parse credentials: %w", err)
	}
	jwtConfig.Subject = cfg.SenderAddress

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(jwtConfig.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("gmail: failed to create service: %w", err)
	}

	return &GmailSender{
		service: svc,
		from:    formatFrom(cfg.SenderName, cfg.SenderAddress),
	}, nil
}

// NewGmailSenderWithToken builds a sender from OAuth2 client credentials and
// a refresh token, for mailboxes without domain-wide delegation.
func NewGmailSenderWithToken(ctx context.Context, clientID, clientSecret, refreshToken, senderAddress, senderName string) (*GmailSender, error) {
	if senderAddress == "" {
		return nil, fmt.Errorf("gmail: sender address is required")
	}

	oauthCfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailSendScope},
	}
	client := oauthCfg.Client(ctx, &oauth2.Token{RefreshToken: refreshToken})

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("gmail: failed to create service: %w", err)
	}

	return &GmailSender{
		service: svc,
		from:    formatFrom(senderName, senderAddress),
	}, nil
}

// Send delivers one message.
func (g *GmailSender) Send(ctx context.Context, msg Message) error {
	raw := base64.URLEncoding.EncodeToString([]byte(buildMIME(g.from, msg)))

	_, err := g.service.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gmail: failed to send email: %w", err)
	}
	return nil
}

func formatFrom(name, address string) string {
	if name == "" {
		return address
	}
	return fmt.Sprintf("%s <%s>", name, address)
}

func buildMIME(from string, msg Message) string {
	headers := []string{
		"From: " + from,
		"To: " + msg.To,
		"Subject: " + msg.Subject,
		"MIME-Version: 1.0",
	}

	switch {
	case msg.HTMLBody != "" && msg.TextBody != "":
		const boundary = "boundary_gatewarden_email"
		lines := append(headers,
			"Content-Type: multipart/alternative; boundary="+boundary,
			"",
			"--"+boundary,
			"Content-Type: text/plain; charset=UTF-8",
			"Content-Transfer-Encoding: 7bit",
			"",
			msg.TextBody,
			"",
			"--"+boundary,
			"Content-Type: text/html; charset=UTF-8",
			"Content-Transfer-Encoding: 7bit",
			"",
			msg.HTMLBody,
			"",
			"--"+boundary+"--",
		)
		return strings.Join(lines, "\r\n")
	case msg.HTMLBody != "":
		lines := append(headers,
			"Content-Type: text/html; charset=UTF-8",
			"",
			msg.HTMLBody,
		)
		return strings.Join(lines, "\r\n")
	default:
		lines := append(headers,
			"Content-Type: text/plain; charset=UTF-8",
			"",
			msg.TextBody,
		)
		return strings.Join(lines, "\r\n")
	}
}
