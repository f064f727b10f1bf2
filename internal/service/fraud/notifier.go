package fraud

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier is the default notification channel: it logs the payload. Real
// transports (email, SMS, push) live outside the engine and plug in via the
// Notifier interface.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier wraps a logger as a Notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the alert payload.
func (n *LogNotifier) Notify(_ context.Context, payload *Notification) error {
	n.logger.Info("fraud alert",
		zap.String("user_id", payload.UserID.String()),
		zap.String("signal_id", payload.SignalID.String()),
		zap.String("rule_code", payload.RuleCode),
		zap.Int("severity", payload.Severity),
		zap.String("summary", payload.Summary))
	return nil
}
