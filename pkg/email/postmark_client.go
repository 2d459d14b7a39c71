package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
)

// PostmarkAPI is the part of *postmark.Client used for delivery.
type PostmarkAPI interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// PostmarkOption customizes a Postmark sender.
type PostmarkOption func(*PostmarkClient)

// WithPostmarkAPI replaces the HTTP client, mainly for tests.
func WithPostmarkAPI(api PostmarkAPI) PostmarkOption {
	return func(c *PostmarkClient) {
		if api != nil {
			c.api = api
		}
	}
}

// PostmarkClient sends email through Postmark's transactional API.
type PostmarkClient struct {
	api    PostmarkAPI
	config Config
}

// NewPostmarkClient validates cfg and builds a Postmark sender.
func NewPostmarkClient(cfg Config, opts ...PostmarkOption) (*PostmarkClient, error) {
	if cfg.PostmarkServerToken == "" {
		return nil, fmt.Errorf("%w: PostmarkServerToken is required", ErrInvalidConfig)
	}
	if err := validAddress("SenderEmail", cfg.SenderEmail); err != nil {
		return nil, err
	}
	if err := validAddress("SupportEmail", cfg.SupportEmail); err != nil {
		return nil, err
	}

	c := &PostmarkClient{
		api:    postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		config: cfg,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SendEmail implements EmailSender. Replies go to the support address and
// opens are tracked; link tracking is limited to the HTML body.
func (c *PostmarkClient) SendEmail(ctx context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	resp, err := c.api.SendEmail(ctx, postmark.Email{
		From:          c.config.SenderEmail,
		ReplyTo:       c.config.SupportEmail,
		To:            params.SendTo,
		Subject:       params.Subject,
		Tag:           params.Tag,
		HTMLBody:      params.BodyHTML,
		Metadata:      params.Metadata,
		MessageStream: c.config.MessageStream,
		TrackOpens:    true,
		TrackLinks:    "HtmlOnly",
	})
	if err != nil {
		return errors.Join(ErrFailedToSendEmail, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrFailedToSendEmail, fmt.Errorf("postmark error %d: %s", resp.ErrorCode, resp.Message))
	}
	return nil
}
