package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/agritrace/fieldsync/internal/adapters/sqlite/localdb"
	"github.com/agritrace/fieldsync/internal/core/domain"
)

// SettingsRepository is the durable key-value table. Counters drawn through
// NextSequence survive restarts and never go backwards.
type SettingsRepository struct {
	db *localdb.DB
}

func NewSettingsRepository(db *localdb.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// NextSequence increments and returns the counter stored under key. The
// read-modify-write runs in a single write transaction on the sole writer
// connection, so concurrent callers serialize.
func (r *SettingsRepository) NextSequence(ctx context.Context, key string) (int64, error) {
	var next int64
	err := r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		var row settingModel
		err := tx.Where("key = ?", key).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			next = 1
		case err != nil:
			return err
		default:
			current, parseErr := strconv.ParseInt(row.Value, 10, 64)
			if parseErr != nil {
				return fmt.Errorf("corrupt counter %q: %w", key, parseErr)
			}
			next = current + 1
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&settingModel{
			Key:       key,
			Value:     strconv.FormatInt(next, 10),
			UpdatedAt: time.Now().UTC(),
		}).Error
	})
	if err != nil {
		return 0, fmt.Errorf("next sequence %q: %w", key, err)
	}
	return next, nil
}

func (r *SettingsRepository) Get(ctx context.Context, key string) (string, error) {
	var row settingModel
	err := r.db.ReadTX(ctx, func(tx *localdb.Tx) error {
		return tx.Where("key = ?", key).First(&row).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return row.Value, nil
}

func (r *SettingsRepository) Put(ctx context.Context, key, value string) error {
	err := r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&settingModel{
			Key:       key,
			Value:     value,
			UpdatedAt: time.Now().UTC(),
		}).Error
	})
	if err != nil {
		return fmt.Errorf("put setting %q: %w", key, err)
	}
	return nil
}

// WatermarkRepository persists per-kind last-sync instants.
type WatermarkRepository struct {
	db *localdb.DB
}

func NewWatermarkRepository(db *localdb.DB) *WatermarkRepository {
	return &WatermarkRepository{db: db}
}

// Get returns the zero time when no watermark has been recorded yet.
func (r *WatermarkRepository) Get(ctx context.Context, kind domain.EntityKind) (time.Time, error) {
	var row watermarkModel
	err := r.db.ReadTX(ctx, func(tx *localdb.Tx) error {
		return tx.Where("entity_kind = ?", string(kind)).First(&row).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("get watermark: %w", err)
	}
	return row.LastSyncAt, nil
}

func (r *WatermarkRepository) Advance(ctx context.Context, kind domain.EntityKind, t time.Time) error {
	err := r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity_kind"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_sync_at"}),
		}).Create(&watermarkModel{
			EntityKind: string(kind),
			LastSyncAt: t,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	return nil
}

func (r *WatermarkRepository) Clear(ctx context.Context, kind domain.EntityKind) error {
	err := r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		return tx.Where("entity_kind = ?", string(kind)).Delete(&watermarkModel{}).Error
	})
	if err != nil {
		return fmt.Errorf("clear watermark: %w", err)
	}
	return nil
}
