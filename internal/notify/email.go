package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/kozaktomas/attendance-terminal/internal/config"
)

// EmailSink sends notifications through the EmailJS REST API.
type EmailSink struct {
	cfg    config.EmailJSConfig
	client *resty.Client
}

// NewEmailSink creates an EmailJS sink.
func NewEmailSink(cfg config.EmailJSConfig) *EmailSink {
	client := resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json")
	return &EmailSink{cfg: cfg, client: client}
}

type emailRequest struct {
	ServiceID      string            `json:"service_id"`
	TemplateID     string            `json:"template_id"`
	UserID         string            `json:"user_id,omitempty"`
	TemplateParams map[string]string `json:"template_params"`
}

func (s *EmailSink) Notify(ctx context.Context, ev Event) error {
	req := emailRequest{
		ServiceID:  s.cfg.ServiceID,
		TemplateID: s.cfg.TemplateID,
		UserID:     s.cfg.UserID,
		TemplateParams: map[string]string{
			"to_name":  ev.PersonName,
			"to_email": Recipient(s.cfg.DefaultRecipient, ev.Email),
			"status":   ev.Status,
			"time":     ev.Time,
			"message":  ev.Message(),
		},
	}

	resp, err := s.client.R().SetContext(ctx).SetBody(req).Post(s.cfg.URL)
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("email API error (status %d): %s", resp.StatusCode(), resp.String())
	}
	return nil
}
