// Package notify fans trade alerts out to operator channels. Senders run
// concurrently; a dead webhook never delays the other channels or the tick
// that triggered the alert.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Event names the controller emits. Operators subscribe per event through
// the notify.events config list.
const (
	EventBuy      = "buy"
	EventSell     = "sell"
	EventDustFlat = "dust_flat"
	EventError    = "error"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches to all senders, filtered by event type. An empty event
// list allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier builds a Notifier delivering to senders for the listed events.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers to all senders when the event type is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll delivers regardless of the event filter. Startup and shutdown
// announcements use it.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch sends through every channel concurrently. Every sender runs to
// completion; the first failure is reported after all have finished.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var g errgroup.Group
	for _, s := range n.senders {
		g.Go(func() error {
			if err := s.Send(ctx, title, message); err != nil {
				n.logger.ErrorContext(ctx, "sender failed",
					slog.String("sender", s.Name()),
					slog.String("error", err.Error()))
				return fmt.Errorf("%s: %w", s.Name(), err)
			}
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()), slog.String("title", title))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}
