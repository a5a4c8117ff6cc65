// Package notify surfaces migration status messages to the invoking operator.
package notify

import (
	"context"

	domain "github.com/fieldsafe/fieldsafe/internal/domain/migration"
	"github.com/fieldsafe/fieldsafe/pkg/common/logger"
)

var _ domain.Notifier = (*LogNotifier)(nil)

// LogNotifier writes status messages to the structured log. For a CLI run
// the log is the operator's terminal, so this is the delivery channel.
type LogNotifier struct{ logger *logger.Logger }

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notifier")}
}

// Notify logs the message at a level matching its severity. Suggestions are
// attached as a separate attribute so they stand out from the message text.
func (n *LogNotifier) Notify(ctx context.Context, msg domain.StatusMessage) {
	args := []any{"severity", string(msg.Severity)}
	if msg.Suggestion != "" {
		args = append(args, "suggestion", msg.Suggestion)
	}

	switch msg.Severity {
	case domain.SeverityCritical:
		n.logger.Error(ctx, msg.Text, args...)
	default:
		n.logger.Info(ctx, msg.Text, args...)
	}
}
