package notify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// SendGridNotifier sends email via the SendGrid v3 API.
type SendGridNotifier struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    *zap.Logger
}

// NewSendGridNotifier returns nil when no API key is configured.
func NewSendGridNotifier(cfg SendGridConfig, logger *zap.Logger) *SendGridNotifier {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SendGridNotifier{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

// BuildMail assembles the SendGrid payload, attachments base64 encoded.
func (s *SendGridNotifier) BuildMail(msg Message) *mail.SGMailV3 {
	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.To)
	m := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, "")
	// NewSingleEmail always adds a text/html part; drop the empty one
	m.Content = []*mail.Content{mail.NewContent("text/plain", msg.Body)}

	for _, a := range msg.Attachments {
		att := mail.NewAttachment()
		att.SetContent(base64.StdEncoding.EncodeToString(a.Content))
		att.SetType(a.ContentType)
		att.SetFilename(a.Filename)
		att.SetDisposition("attachment")
		m.AddAttachment(att)
	}
	return m
}

func (s *SendGridNotifier) Send(ctx context.Context, msg Message) error {
	if s == nil || s.client == nil {
		return failed("email", errors.New("sendgrid client not configured"))
	}
	if msg.To == "" {
		return failed("email", errors.New("recipient required"))
	}

	response, err := s.client.SendWithContext(ctx, s.BuildMail(msg))
	if err != nil {
		s.logger.Error("sendgrid send failed", zap.String("to", msg.To), zap.Error(err))
		return failed("email", err)
	}

	if response.StatusCode >= 400 {
		s.logger.Error("sendgrid returned error status",
			zap.Int("status", response.StatusCode), zap.String("body", response.Body), zap.String("to", msg.To))
		return failed("email", fmt.Errorf("sendgrid returned status %d", response.StatusCode))
	}

	s.logger.Info("email sent via sendgrid",
		zap.String("to", msg.To), zap.String("subject", msg.Subject), zap.Int("status", response.StatusCode))
	return nil
}
