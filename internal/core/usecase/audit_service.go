package usecase

import (
	"context"

	"github.com/agritrace/fieldsync/internal/core/domain"
	"github.com/agritrace/fieldsync/internal/core/ports"
)

// AuditLogService exposes the local trace of queued-operation outcomes.
type AuditLogService struct {
	trail ports.AuditTrail
}

func NewAuditLogService(trail ports.AuditTrail) *AuditLogService {
	return &AuditLogService{trail: trail}
}

func (s *AuditLogService) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Limit > 1000 {
		filter.Limit = 1000
	}
	return s.trail.List(ctx, filter)
}
