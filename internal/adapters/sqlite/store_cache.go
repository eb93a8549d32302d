package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/agritrace/fieldsync/internal/adapters/sqlite/localdb"
	"github.com/agritrace/fieldsync/internal/core/domain"
)

// StoreCacheRepository is the local projection table for storage facilities.
type StoreCacheRepository struct {
	db *localdb.DB
}

func NewStoreCacheRepository(db *localdb.DB) *StoreCacheRepository {
	return &StoreCacheRepository{db: db}
}

func (r *StoreCacheRepository) Insert(ctx context.Context, s domain.Store) (domain.Store, error) {
	model := toStoreModel(s)
	err := r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		return tx.Create(&model).Error
	})
	if err != nil {
		return domain.Store{}, fmt.Errorf("insert store: %w", err)
	}
	s.RowID = model.RowID
	return s, nil
}

func (r *StoreCacheRepository) GetByLocalID(ctx context.Context, localID string) (domain.Store, error) {
	return r.getBy(ctx, "local_id = ?", localID)
}

func (r *StoreCacheRepository) GetByServerID(ctx context.Context, serverID string) (domain.Store, error) {
	return r.getBy(ctx, "server_id = ?", serverID)
}

func (r *StoreCacheRepository) getBy(ctx context.Context, cond string, arg string) (domain.Store, error) {
	var model storeModel
	err := r.db.ReadTX(ctx, func(tx *localdb.Tx) error {
		return tx.Where(cond, arg).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Store{}, domain.ErrNotFound
		}
		return domain.Store{}, fmt.Errorf("get store: %w", err)
	}
	return toStore(model), nil
}

func (r *StoreCacheRepository) List(ctx context.Context, filter domain.StoreFilter) ([]domain.Store, error) {
	var rows []storeModel
	err := r.db.ReadTX(ctx, func(tx *localdb.Tx) error {
		query := tx.Model(&storeModel{})
		if filter.Region != "" {
			query = query.Where("region = ?", filter.Region)
		}
		if filter.Active != nil {
			query = query.Where("active = ?", *filter.Active)
		}
		if filter.Search != "" {
			pattern := "%" + filter.Search + "%"
			query = query.Where("name LIKE ? OR code LIKE ?", pattern, pattern)
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
			if filter.Page > 1 {
				query = query.Offset((filter.Page - 1) * filter.Limit)
			}
		}
		return query.Order("row_id ASC").Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	stores := make([]domain.Store, 0, len(rows))
	for _, row := range rows {
		stores = append(stores, toStore(row))
	}
	return stores, nil
}

func (r *StoreCacheRepository) UpdateByLocalID(ctx context.Context, localID string, s domain.Store) error {
	err := r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		return tx.Model(&storeModel{}).
			Where("local_id = ?", localID).
			Updates(map[string]any{
				"name":          s.Name,
				"region":        s.Region,
				"capacity_tons": s.CapacityTons,
				"active":        s.Active,
				"sync_status":   string(s.SyncStatus),
			}).Error
	})
	if err != nil {
		return fmt.Errorf("update store: %w", err)
	}
	return nil
}

func (r *StoreCacheRepository) Promote(ctx context.Context, localID, serverID, code string, syncedAt time.Time) error {
	err := r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		res := tx.Model(&storeModel{}).
			Where("local_id = ?", localID).
			Updates(map[string]any{
				"server_id":   serverID,
				"code":        code,
				"sync_status": string(domain.SyncStatusSynced),
				"synced_at":   syncedAt,
			})
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
		return fmt.Errorf("promote store: %w", err)
	}
	return nil
}

func (r *StoreCacheRepository) UpsertFromServer(ctx context.Context, s domain.Store) error {
	model := toStoreModel(s)
	err := r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "server_id"}},
			TargetWhere: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "server_id IS NOT NULL"},
			}},
			DoUpdates: clause.AssignmentColumns([]string{
				"code", "name", "region", "capacity_tons", "active", "sync_status", "synced_at",
			}),
		}).Create(&model).Error
	})
	if err != nil {
		return fmt.Errorf("upsert store: %w", err)
	}
	return nil
}

func (r *StoreCacheRepository) DeleteByServerID(ctx context.Context, serverID string) error {
	err := r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		return tx.Where("server_id = ?", serverID).Delete(&storeModel{}).Error
	})
	if err != nil {
		return fmt.Errorf("delete store: %w", err)
	}
	return nil
}

func (r *StoreCacheRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.ReadTX(ctx, func(tx *localdb.Tx) error {
		return tx.Model(&storeModel{}).Count(&n).Error
	})
	if err != nil {
		return 0, fmt.Errorf("count stores: %w", err)
	}
	return n, nil
}

func (r *StoreCacheRepository) Clear(ctx context.Context) error {
	err := r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		return tx.Where("1 = 1").Delete(&storeModel{}).Error
	})
	if err != nil {
		return fmt.Errorf("clear stores: %w", err)
	}
	return nil
}

func toStoreModel(s domain.Store) storeModel {
	return storeModel{
		RowID:        s.RowID,
		ServerID:     nullString(s.ServerID),
		LocalID:      nullString(s.LocalID),
		Code:         s.Code,
		Name:         s.Name,
		Region:       s.Region,
		CapacityTons: s.CapacityTons,
		Active:       s.Active,
		SyncStatus:   string(s.SyncStatus),
		SyncedAt:     nullTime(s.SyncedAt),
	}
}

func toStore(model storeModel) domain.Store {
	return domain.Store{
		RowID:        model.RowID,
		ServerID:     model.ServerID.String,
		LocalID:      model.LocalID.String,
		Code:         model.Code,
		Name:         model.Name,
		Region:       model.Region,
		CapacityTons: model.CapacityTons,
		Active:       model.Active,
		SyncStatus:   domain.SyncStatus(model.SyncStatus),
		SyncedAt:     model.SyncedAt.Time,
	}
}
