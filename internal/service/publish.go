package service

import (
	"context"

	"passgate/internal/logger"
)

// publish sends an event after the state change it describes is committed.
// Failures are logged and never undo the change.
func publish(ctx context.Context, p EventPublisher, subject string, data any) {
	if p == nil {
		return
	}
	if err := p.Publish(subject, data); err != nil {
		logger.WithContext(ctx).Error("Failed to publish event",
			"error", err,
			"subject", subject)
	}
}
