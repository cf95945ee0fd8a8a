package log

import (
	"context"
	"encoding/hex"
	"log/slog"
)

// SlogAdapter writes security events to an slog.Logger.
// Useful for development when you want to see events in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger. Failures are logged at Warn level,
// everything else at Debug.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("category", event.Category.String()),
		slog.String("operation", event.Operation),
		slog.String("outcome", event.Outcome.String()),
	}

	level := slog.LevelDebug
	if event.Outcome == OutcomeFailure {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("code", event.Code.String()))
	}

	if len(event.KeyID) > 0 {
		attrs = append(attrs, slog.String("key_id", hex.EncodeToString(event.KeyID)))
	}
	if event.JoinerID != "" {
		attrs = append(attrs, slog.String("joiner_id", event.JoinerID))
	}
	if event.Detail != "" {
		attrs = append(attrs, slog.String("detail", event.Detail))
	}

	a.logger.LogAttrs(context.Background(), level, "security", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
