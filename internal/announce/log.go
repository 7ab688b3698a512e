package announce

import (
	"context"
	"log/slog"
)

// LogAnnouncer writes announcements as structured log lines. Grounded on
// notify/log/log.go's Notifier, rewritten against log/slog (the teacher's
// current packages — inhibit.go, silence.go — have moved off go-kit/log
// onto slog, and go-kit/log is not a direct module dependency here).
type LogAnnouncer struct {
	logger *slog.Logger
}

// NewLogAnnouncer builds a LogAnnouncer writing through logger.
func NewLogAnnouncer(logger *slog.Logger) *LogAnnouncer {
	return &LogAnnouncer{logger: logger}
}

// Announce logs ev at info level with structured fields, plus the exact
// rendered message for operators grepping logs.
func (l *LogAnnouncer) Announce(_ context.Context, ev Event) error {
	kind := "death"
	if ev.Kind == Recovery {
		kind = "recovery"
	}
	l.logger.Info("grid announcement",
		"kind", kind,
		"target", ev.Target,
		"announced_by", ev.Me,
		"handle", ev.Handle,
		"message", Render(ev),
	)
	return nil
}
