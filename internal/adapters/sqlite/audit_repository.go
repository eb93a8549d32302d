package sqlite

import (
	"context"
	"fmt"

	"github.com/agritrace/fieldsync/internal/adapters/sqlite/localdb"
	"github.com/agritrace/fieldsync/internal/core/domain"
)

// AuditRepository persists queued-operation outcomes.
type AuditRepository struct {
	db *localdb.DB
}

func NewAuditRepository(db *localdb.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, entry domain.AuditEntry) error {
	model := auditEntryModel{
		UserID:     entry.UserID,
		EntityKind: string(entry.EntityKind),
		EntityID:   entry.EntityID,
		Operation:  string(entry.Operation),
		Outcome:    entry.Outcome,
		Detail:     entry.Detail,
		OccurredAt: entry.OccurredAt,
	}
	err := r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		return tx.Create(&model).Error
	})
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (r *AuditRepository) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	var rows []auditEntryModel
	err := r.db.ReadTX(ctx, func(tx *localdb.Tx) error {
		query := tx.Model(&auditEntryModel{})
		if filter.UserID != "" {
			query = query.Where("user_id = ?", filter.UserID)
		}
		if filter.EntityKind != "" {
			query = query.Where("entity_kind = ?", string(filter.EntityKind))
		}
		if filter.EntityID != "" {
			query = query.Where("entity_id = ?", filter.EntityID)
		}
		if filter.Outcome != "" {
			query = query.Where("outcome = ?", filter.Outcome)
		}
		if filter.AfterID > 0 {
			query = query.Where("id < ?", filter.AfterID)
		}
		return query.Order("id DESC").Limit(filter.Limit).Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}

	entries := make([]domain.AuditEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, domain.AuditEntry{
			ID:         row.ID,
			UserID:     row.UserID,
			EntityKind: domain.EntityKind(row.EntityKind),
			EntityID:   row.EntityID,
			Operation:  domain.Operation(row.Operation),
			Outcome:    row.Outcome,
			Detail:     row.Detail,
			OccurredAt: row.OccurredAt,
		})
	}
	return entries, nil
}
