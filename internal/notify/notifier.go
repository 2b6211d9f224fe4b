// Package notify delivers rendered patient messages over email and SMS.
package notify

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
)

// ErrNotificationFailed wraps every transport failure so callers can tell a
// failed send from a programming error.
var ErrNotificationFailed = errors.New("notification failed")

type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// LoadAttachment reads a file from disk, guessing the content type from its
// extension.
func LoadAttachment(path string) (*Attachment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	name := filepath.Base(path)
	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return &Attachment{Filename: name, ContentType: ct, Content: content}, nil
}

type Message struct {
	To          string
	ToName      string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Notifier sends one message on one channel. Implementations can be swapped
// (SendGrid, Twilio, stub) without changing callers.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

func failed(channel string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrNotificationFailed, channel, err)
}
