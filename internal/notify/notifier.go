package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// ErrPermissionDenied means the user withheld the permission to show
// notifications, it never fails a run.
var ErrPermissionDenied = errors.New("notify: notification permission denied")

// Notifier shows notifications to the user.
type Notifier interface {
	ShowNotification(ctx context.Context, title, message string, id int) error
	ShowSummaryNotification(ctx context.Context, title, message string, count int) error
	HasPermission(ctx context.Context) bool
	RequestPermission(ctx context.Context) error
}

// LogNotifier writes notifications as log lines.
type LogNotifier struct {
	logger  *slog.Logger
	granted atomic.Bool
}

// NewLogNotifier returns a notifier logging to `logger` (slog.Default()
// when nil), with permission granted when `granted` is set.
func NewLogNotifier(logger *slog.Logger, granted bool) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &LogNotifier{logger: logger}
	n.granted.Store(granted)
	return n
}

func (n *LogNotifier) ShowNotification(ctx context.Context, title, message string, id int) error {
	if !n.granted.Load() {
		return ErrPermissionDenied
	}
	n.logger.InfoContext(ctx, "notification", "id", id, "title", title, "message", message)
	return nil
}

func (n *LogNotifier) ShowSummaryNotification(ctx context.Context, title, message string, count int) error {
	if !n.granted.Load() {
		return ErrPermissionDenied
	}
	n.logger.InfoContext(ctx, "notification summary", "count", count, "title", title, "message", message)
	return nil
}

func (n *LogNotifier) HasPermission(ctx context.Context) bool {
	return n.granted.Load()
}

func (n *LogNotifier) RequestPermission(ctx context.Context) error {
	n.granted.Store(true)
	return nil
}
