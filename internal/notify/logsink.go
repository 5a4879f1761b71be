package notify

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mkcamara/scolaris-core/internal/models"
)

// LogSink is a Gateway that only logs. It stands in for a real provider in
// development and tests.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink constructs a logging gateway.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Send logs the message and acknowledges with a synthetic provider id.
func (s *LogSink) Send(ctx context.Context, channel models.ReminderChannel, phone, body string) (Result, error) {
	id := uuid.NewString()
	s.logger.Info("outbound message",
		zap.String("channel", string(channel)),
		zap.String("phone", phone),
		zap.String("provider_id", id),
		zap.Int("body_len", len(body)))
	return Result{ProviderID: id}, nil
}
