package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"schoollibrary/internal/models"
)

// Sink receives due-today reminders
type Sink interface {
	Notify(ctx context.Context, n models.Notification) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, n models.Notification) error

// Notify calls f
func (f SinkFunc) Notify(ctx context.Context, n models.Notification) error {
	return f(ctx, n)
}

// LogSink writes reminders to the application log
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Notify logs one line per reminder entry
func (s *LogSink) Notify(ctx context.Context, n models.Notification) error {
	s.logger.Info("Returns due today",
		zap.String("notification_id", n.ID.String()),
		zap.Time("date", n.Date),
		zap.Int("count", len(n.Entries)),
	)
	for _, e := range n.Entries {
		s.logger.Info("Return due",
			zap.String("student", e.StudentName),
			zap.String("code", e.StudentCode),
			zap.String("book", e.BookTitle),
		)
	}
	return nil
}

// Fanout delivers a reminder to every sink. It fails when any sink fails,
// after trying all of them.
type Fanout []Sink

// Notify forwards n to each sink
func (f Fanout) Notify(ctx context.Context, n models.Notification) error {
	var errs []error
	for _, s := range f {
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FormatReminder renders a reminder as plain text
func FormatReminder(n models.Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Returns due today (%s):\n\n", n.Date.Format("02/01/2006"))
	for _, e := range n.Entries {
		fmt.Fprintf(&b, "- %s (enrollment %s): %s\n", e.StudentName, e.StudentCode, e.BookTitle)
	}
	return b.String()
}
