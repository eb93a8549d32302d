package events

import (
	"context"

	"github.com/agritrace/fieldsync/internal/core/domain"
	"github.com/agritrace/fieldsync/internal/core/ports"
)

// MultiSink fans one event out to several sinks in order.
type MultiSink struct {
	sinks []ports.SyncEventSink
}

func NewMultiSink(sinks ...ports.SyncEventSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Emit(ctx context.Context, event domain.SyncEvent) {
	for _, s := range m.sinks {
		s.Emit(ctx, event)
	}
}
