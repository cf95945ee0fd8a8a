package log

import (
	"encoding/hex"

	"go.uber.org/zap"
)

// ZapAdapter writes security events to a zap.Logger.
type ZapAdapter struct {
	logger *zap.Logger
}

// NewZapAdapter creates a new ZapAdapter that writes to the given zap.Logger.
// A nil logger is replaced by zap.NewNop().
func NewZapAdapter(logger *zap.Logger) *ZapAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapAdapter{logger: logger}
}

// Log writes the event. Failures are logged at Warn level, everything else
// at Debug.
func (a *ZapAdapter) Log(event Event) {
	fields := []zap.Field{
		zap.Time("ts_event", event.Timestamp),
		zap.String("category", event.Category.String()),
		zap.String("operation", event.Operation),
		zap.String("outcome", event.Outcome.String()),
	}
	if len(event.KeyID) > 0 {
		fields = append(fields, zap.String("key_id", hex.EncodeToString(event.KeyID)))
	}
	if event.JoinerID != "" {
		fields = append(fields, zap.String("joiner_id", event.JoinerID))
	}
	if event.Detail != "" {
		fields = append(fields, zap.String("detail", event.Detail))
	}

	if event.Outcome == OutcomeFailure {
		fields = append(fields, zap.String("code", event.Code.String()))
		a.logger.Warn("security", fields...)
		return
	}
	a.logger.Debug("security", fields...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*ZapAdapter)(nil)
