package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// DevSender writes each email to a JSON file instead of delivering it.
type DevSender struct {
	dir string
	now func() time.Time
}

// NewDevSender returns a sender that stores messages under dir, creating it on demand.
func NewDevSender(dir string) *DevSender {
	return &DevSender{dir: dir, now: time.Now}
}

type devMessage struct {
	SentAt time.Time `json:"sent_at"`
	SendEmailParams
}

// SendEmail stores params as <timestamp>_<tag or subject>.json.
func (d *DevSender) SendEmail(_ context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return errors.Join(ErrFailedToSendEmail, err)
	}

	now := d.now().UTC()
	name := params.Tag
	if name == "" {
		name = params.Subject
	}
	path := filepath.Join(d.dir, fmt.Sprintf("%s_%s.json", now.Format("20060102T150405.000000000"), sanitizeFilename(name)))

	data, err := json.MarshalIndent(devMessage{SentAt: now, SendEmailParams: params}, "", "  ")
	if err != nil {
		return errors.Join(ErrFailedToSendEmail, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Join(ErrFailedToSendEmail, err)
	}
	return nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-z0-9\-_.]`)

func sanitizeFilename(s string) string {
	s = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "_"))
	s = unsafeFilenameChars.ReplaceAllString(s, "")
	if len(s) > 64 {
		s = s[:64]
	}
	if s == "" {
		return "email"
	}
	return s
}
