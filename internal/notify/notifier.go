// Package notify pushes trading alerts to external channels. Telemetry
// events are rendered into short alerts and handed to every configured
// sender; an event-type allowlist keeps noisy event classes out of chat.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nsavelyev/scalpbot/internal/domain"
)

// Alert is a rendered notification ready for delivery.
type Alert struct {
	Title string
	Body  string
}

// Sender delivers alerts over a single channel.
type Sender interface {
	Send(ctx context.Context, a Alert) error
	Name() string
}

// Notifier fans alerts out to its senders, filtered by event type.
type Notifier struct {
	senders []Sender
	allowed map[domain.EventType]struct{}
	logger  *slog.Logger
}

// NewNotifier builds a Notifier over the given senders. Only events whose
// type appears in events are delivered; an empty list allows everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]struct{}, len(events))
	for _, e := range events {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		allowed[domain.EventType(e)] = struct{}{}
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

func (n *Notifier) wants(t domain.EventType) bool {
	if len(n.allowed) == 0 {
		return true
	}
	_, ok := n.allowed[t]
	return ok
}

// deliver sends the alert to every sender. A failing sender does not block
// the rest; individual failures are logged and joined into the returned error.
func (n *Notifier) deliver(ctx context.Context, a Alert) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, a); err != nil {
			n.logger.ErrorContext(ctx, "alert delivery failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert delivered",
			slog.String("sender", s.Name()),
			slog.String("title", a.Title),
		)
	}
	return errors.Join(errs...)
}
