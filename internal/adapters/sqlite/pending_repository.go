package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/agritrace/fieldsync/internal/adapters/sqlite/localdb"
	"github.com/agritrace/fieldsync/internal/core/domain"
)

// PendingRepository persists the mutation queue. Row ids double as the FIFO
// drain order.
type PendingRepository struct {
	db *localdb.DB
}

func NewPendingRepository(db *localdb.DB) *PendingRepository {
	return &PendingRepository{db: db}
}

func (r *PendingRepository) Enqueue(ctx context.Context, op domain.PendingOperation) (domain.PendingOperation, error) {
	payload, err := json.Marshal(op.Payload)
	if err != nil {
		return domain.PendingOperation{}, fmt.Errorf("encode payload: %w", err)
	}
	model := pendingOperationModel{
		EntityID:      op.EntityID,
		EntityKind:    string(op.EntityKind),
		Operation:     string(op.Operation),
		Payload:       string(payload),
		Timestamp:     op.Timestamp,
		Retries:       op.Retries,
		UserID:        op.UserID,
		Status:        string(op.Status),
		LastError:     op.LastError,
		NextAttemptAt: op.NextAttemptAt,
	}
	err = r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		return tx.Create(&model).Error
	})
	if err != nil {
		return domain.PendingOperation{}, fmt.Errorf("enqueue operation: %w", err)
	}
	op.ID = model.ID
	return op, nil
}

func (r *PendingRepository) NextBatch(ctx context.Context, limit int) ([]domain.PendingOperation, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []pendingOperationModel
	err := r.db.ReadTX(ctx, func(tx *localdb.Tx) error {
		return tx.Where("status = ?", string(domain.StatusPending)).
			Order("id ASC").
			Limit(limit).
			Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("fetch pending batch: %w", err)
	}
	return toPendingOps(rows)
}

func (r *PendingRepository) FindUnsynced(ctx context.Context, kind domain.EntityKind, entityID, userID string) (domain.PendingOperation, error) {
	var row pendingOperationModel
	err := r.db.ReadTX(ctx, func(tx *localdb.Tx) error {
		return tx.Where("entity_kind = ? AND entity_id = ? AND user_id = ?", string(kind), entityID, userID).
			Order("id ASC").
			First(&row).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.PendingOperation{}, domain.ErrNoPendingOperation
		}
		return domain.PendingOperation{}, fmt.Errorf("find unsynced operation: %w", err)
	}
	return toPendingOp(row)
}

func (r *PendingRepository) AmendPayload(ctx context.Context, id int64, payload domain.Payload, ts time.Time) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	err = r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		return tx.Model(&pendingOperationModel{}).
			Where("id = ?", id).
			Updates(map[string]any{"payload": string(encoded), "timestamp": ts}).Error
	})
	if err != nil {
		return fmt.Errorf("amend payload: %w", err)
	}
	return nil
}

func (r *PendingRepository) Remove(ctx context.Context, id int64) error {
	err := r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		return tx.Where("id = ?", id).Delete(&pendingOperationModel{}).Error
	})
	if err != nil {
		return fmt.Errorf("remove operation: %w", err)
	}
	return nil
}

func (r *PendingRepository) MarkAttemptFailed(ctx context.Context, id int64, retries int, nextAttemptAt time.Time, errMsg string) error {
	err := r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		return tx.Model(&pendingOperationModel{}).
			Where("id = ?", id).
			Updates(map[string]any{"retries": retries, "next_attempt_at": nextAttemptAt, "last_error": errMsg}).Error
	})
	if err != nil {
		return fmt.Errorf("mark attempt failed: %w", err)
	}
	return nil
}

func (r *PendingRepository) MarkExhausted(ctx context.Context, id int64, retries int, errMsg string) error {
	err := r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		return tx.Model(&pendingOperationModel{}).
			Where("id = ?", id).
			Updates(map[string]any{"status": string(domain.StatusFailed), "retries": retries, "last_error": errMsg}).Error
	})
	if err != nil {
		return fmt.Errorf("mark exhausted: %w", err)
	}
	return nil
}

func (r *PendingRepository) MarkBlocked(ctx context.Context, id int64, errMsg string) error {
	err := r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		return tx.Model(&pendingOperationModel{}).
			Where("id = ?", id).
			Updates(map[string]any{"status": string(domain.StatusBlocked), "last_error": errMsg}).Error
	})
	if err != nil {
		return fmt.Errorf("mark blocked: %w", err)
	}
	return nil
}

func (r *PendingRepository) Reactivate(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	err := r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		res := tx.Model(&pendingOperationModel{}).
			Where("id = ? AND status IN ?", id, []string{string(domain.StatusFailed), string(domain.StatusBlocked)}).
			Updates(map[string]any{"status": string(domain.StatusPending), "retries": 0, "next_attempt_at": now, "last_error": ""})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("reactivate operation: %w", err)
	}
	return nil
}

func (r *PendingRepository) ListByUser(ctx context.Context, userID string) ([]domain.PendingOperation, error) {
	var rows []pendingOperationModel
	err := r.db.ReadTX(ctx, func(tx *localdb.Tx) error {
		return tx.Where("user_id = ?", userID).Order("id ASC").Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	return toPendingOps(rows)
}

func (r *PendingRepository) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.ReadTX(ctx, func(tx *localdb.Tx) error {
		return tx.Model(&pendingOperationModel{}).
			Where("status = ?", string(domain.StatusPending)).
			Count(&n).Error
	})
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

func (r *PendingRepository) Clear(ctx context.Context, userID string) error {
	err := r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		return tx.Where("user_id = ?", userID).Delete(&pendingOperationModel{}).Error
	})
	if err != nil {
		return fmt.Errorf("clear operations: %w", err)
	}
	return nil
}

func toPendingOp(row pendingOperationModel) (domain.PendingOperation, error) {
	var payload domain.Payload
	if err := json.Unmarshal([]byte(row.Payload), &payload); err != nil {
		return domain.PendingOperation{}, fmt.Errorf("decode payload for operation %d: %w", row.ID, err)
	}
	return domain.PendingOperation{
		ID:            row.ID,
		EntityID:      row.EntityID,
		EntityKind:    domain.EntityKind(row.EntityKind),
		Operation:     domain.Operation(row.Operation),
		Payload:       payload,
		Timestamp:     row.Timestamp,
		Retries:       row.Retries,
		UserID:        row.UserID,
		Status:        domain.OperationStatus(row.Status),
		LastError:     row.LastError,
		NextAttemptAt: row.NextAttemptAt,
	}, nil
}

func toPendingOps(rows []pendingOperationModel) ([]domain.PendingOperation, error) {
	ops := make([]domain.PendingOperation, 0, len(rows))
	for _, row := range rows {
		op, err := toPendingOp(row)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}
