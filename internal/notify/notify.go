// Package notify provides local notification delivery for the refresh scheduler.
package notify

import (
	"context"
	"errors"
	"log/slog"
)

// LogNotifier records notifications through slog. Hosts with a desktop or
// mobile notification service supply their own refresh.Notifier instead.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier writing to logger, or slog.Default when nil
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// ScheduleNotification logs the notification
func (n *LogNotifier) ScheduleNotification(ctx context.Context, title, body string) error {
	if title == "" {
		return errors.New("notification title is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	n.logger.InfoContext(ctx, "Notification scheduled", "title", title, "body", body)
	return nil
}
