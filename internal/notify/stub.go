package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// StubNotifier logs messages instead of sending them. Used when a channel has
// no credentials configured.
type StubNotifier struct {
	channel string
	logger  *zap.Logger
}

func NewStubNotifier(channel string, logger *zap.Logger) *StubNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubNotifier{channel: channel, logger: logger}
}

func (s *StubNotifier) Send(ctx context.Context, msg Message) error {
	s.logger.Info("stub notifier: would send",
		zap.String("channel", s.channel),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("attachments", len(msg.Attachments)),
	)
	return nil
}

// Recorder keeps every message it is asked to send. Fail, when set, decides
// per message whether the send errors.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
	Fail func(Message) error
}

func (r *Recorder) Send(ctx context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		if err := r.Fail(msg); err != nil {
			return failed("recorder", err)
		}
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}
