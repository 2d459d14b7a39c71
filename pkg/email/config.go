package email

// Config selects and configures the outbound email sender.
// Without a Postmark server token NewFromConfig falls back to the disk-backed DevSender.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	MessageStream        string `env:"POSTMARK_MESSAGE_STREAM" envDefault:"outbound"`
	SenderEmail          string `env:"BILLING_EMAIL_FROM,required"`
	SupportEmail         string `env:"BILLING_EMAIL_REPLY_TO,required"`
	DevOutputDir         string `env:"EMAIL_DEV_DIR" envDefault:".emails"`
}

// NewFromConfig returns a Postmark sender when a server token is configured
// and a DevSender writing into DevOutputDir otherwise.
func NewFromConfig(cfg Config) (EmailSender, error) {
	if cfg.PostmarkServerToken == "" {
		return NewDevSender(cfg.DevOutputDir), nil
	}
	client, err := NewPostmarkClient(cfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}
