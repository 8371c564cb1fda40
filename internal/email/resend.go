package email

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"

	"github.com/hypernova-labs/dgi-service/internal/logger"
)

// ResendService sends transactional email through the Resend API.
type ResendService struct {
	client *resend.Client
	from   string
	log    zerolog.Logger
}

func NewResendService(apiKey, from string) *ResendService {
	return &ResendService{
		client: resend.NewClient(apiKey),
		from:   from,
		log:    logger.WithComponent("email"),
	}
}

func (s *ResendService) Send(ctx context.Context, msg Message) (string, error) {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      msg.To,
		Cc:      msg.Cc,
		Subject: msg.Subject,
		Html:    msg.HTML,
	}
	for _, a := range msg.Attachments {
		params.Attachments = append(params.Attachments, &resend.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Content:     a.Content,
		})
	}
	sent, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return "", fmt.Errorf("resend send: %w", err)
	}
	s.log.Info().Str("message_id", sent.Id).Strs("to", msg.To).Msg("email sent")
	return sent.Id, nil
}
