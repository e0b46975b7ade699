// Package notify delivers operational alerts to one or more channels
// (Telegram, Discord). Settlement failures and market lifecycle events fan
// out to every registered sender.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Severity classifies an alert so channels can render it distinctly.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityError Severity = "error"
)

// Field is one structured key/value pair attached to an alert, e.g. the fill
// id and failure code of a settlement failure.
type Field struct {
	Key   string
	Value string
}

// Event is a fully-formed alert handed to each sender.
type Event struct {
	Severity Severity
	Title    string
	Message  string
	Fields   []Field
	At       time.Time
}

// Sender is one notification channel.
type Sender interface {
	// Send delivers the event over the channel.
	Send(ctx context.Context, e Event) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier fans an alert out to all registered senders. A failing sender does
// not prevent delivery to the remaining ones.
type Notifier struct {
	senders []Sender
	logger  *slog.Logger
}

// New creates a Notifier over the given senders.
func New(senders []Sender, logger *slog.Logger) *Notifier {
	return &Notifier{
		senders: senders,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Alert delivers an error-severity event to every sender, collecting
// per-sender failures into one combined error. kv is alternating key/value
// pairs attached as structured fields; a trailing odd key is dropped.
func (n *Notifier) Alert(ctx context.Context, title, message string, kv ...string) error {
	return n.dispatch(ctx, Event{
		Severity: SeverityError,
		Title:    title,
		Message:  message,
		Fields:   pairFields(kv),
		At:       time.Now().UTC(),
	})
}

// Info delivers an informational event, e.g. a market settling cleanly.
func (n *Notifier) Info(ctx context.Context, title, message string, kv ...string) error {
	return n.dispatch(ctx, Event{
		Severity: SeverityInfo,
		Title:    title,
		Message:  message,
		Fields:   pairFields(kv),
		At:       time.Now().UTC(),
	})
}

func (n *Notifier) dispatch(ctx context.Context, e Event) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, e); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("severity", string(e.Severity)),
			slog.String("title", e.Title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

func pairFields(kv []string) []Field {
	fields := make([]Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, Field{Key: kv[i], Value: kv[i+1]})
	}
	return fields
}
