// Package notify pushes trade lifecycle messages to chat channels. Delivery
// is best effort; a failed or slow sender never blocks the trading path.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// sendTimeout bounds one delivery attempt per sender.
const sendTimeout = 10 * time.Second

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans a message out to every configured sender.
type Notifier struct {
	senders []Sender
	logger  *slog.Logger
}

// New creates a Notifier. With no senders every Notify is a no-op.
func New(senders []Sender, logger *slog.Logger) *Notifier {
	return &Notifier{
		senders: senders,
		logger:  logger.With("component", "notifier"),
	}
}

// Notify delivers to all senders in the background. Failures are logged per
// sender and never surface to the caller.
func (n *Notifier) Notify(ctx context.Context, title, message string) {
	for _, s := range n.senders {
		go func(s Sender) {
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
			defer cancel()

			if err := s.Send(sendCtx, title, message); err != nil {
				n.logger.Warn("notification delivery failed",
					"sender", s.Name(), "title", title, "error", err)
			}
		}(s)
	}
}
