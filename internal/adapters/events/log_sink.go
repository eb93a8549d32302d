package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/agritrace/fieldsync/internal/core/domain"
)

// LogSink writes dispatcher events to the structured log.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.Named("sync-events")}
}

func (s *LogSink) Emit(_ context.Context, event domain.SyncEvent) {
	s.log.Info("sync event",
		zap.String("type", string(event.Type)),
		zap.Int64("operation_id", event.OperationID),
		zap.String("entity_kind", string(event.EntityKind)),
		zap.String("entity_id", event.EntityID),
		zap.String("user_id", event.UserID),
		zap.String("error", event.Error),
	)
}
