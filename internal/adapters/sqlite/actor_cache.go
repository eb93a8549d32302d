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

// ActorCacheRepository is the local projection table for supply-chain actors.
type ActorCacheRepository struct {
	db *localdb.DB
}

func NewActorCacheRepository(db *localdb.DB) *ActorCacheRepository {
	return &ActorCacheRepository{db: db}
}

func (r *ActorCacheRepository) Insert(ctx context.Context, a domain.Actor) (domain.Actor, error) {
	model := toActorModel(a)
	err := r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		return tx.Create(&model).Error
	})
	if err != nil {
		return domain.Actor{}, fmt.Errorf("insert actor: %w", err)
	}
	a.RowID = model.RowID
	return a, nil
}

func (r *ActorCacheRepository) GetByLocalID(ctx context.Context, localID string) (domain.Actor, error) {
	return r.getBy(ctx, "local_id = ?", localID)
}

func (r *ActorCacheRepository) GetByServerID(ctx context.Context, serverID string) (domain.Actor, error) {
	return r.getBy(ctx, "server_id = ?", serverID)
}

func (r *ActorCacheRepository) getBy(ctx context.Context, cond string, arg string) (domain.Actor, error) {
	var model actorModel
	err := r.db.ReadTX(ctx, func(tx *localdb.Tx) error {
		return tx.Where(cond, arg).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Actor{}, domain.ErrNotFound
		}
		return domain.Actor{}, fmt.Errorf("get actor: %w", err)
	}
	return toActor(model), nil
}

func (r *ActorCacheRepository) List(ctx context.Context, filter domain.ActorFilter) ([]domain.Actor, error) {
	var rows []actorModel
	err := r.db.ReadTX(ctx, func(tx *localdb.Tx) error {
		query := tx.Model(&actorModel{})
		if filter.Type != "" {
			query = query.Where("type = ?", string(filter.Type))
		}
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
		return nil, fmt.Errorf("list actors: %w", err)
	}
	actors := make([]domain.Actor, 0, len(rows))
	for _, row := range rows {
		actors = append(actors, toActor(row))
	}
	return actors, nil
}

func (r *ActorCacheRepository) UpdateByLocalID(ctx context.Context, localID string, a domain.Actor) error {
	err := r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		return tx.Model(&actorModel{}).
			Where("local_id = ?", localID).
			Updates(map[string]any{
				"name":        a.Name,
				"type":        string(a.Type),
				"phone":       a.Phone,
				"region":      a.Region,
				"active":      a.Active,
				"sync_status": string(a.SyncStatus),
			}).Error
	})
	if err != nil {
		return fmt.Errorf("update actor: %w", err)
	}
	return nil
}

func (r *ActorCacheRepository) Promote(ctx context.Context, localID, serverID, code string, syncedAt time.Time) error {
	err := r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		res := tx.Model(&actorModel{}).
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
		return fmt.Errorf("promote actor: %w", err)
	}
	return nil
}

func (r *ActorCacheRepository) UpsertFromServer(ctx context.Context, a domain.Actor) error {
	model := toActorModel(a)
	err := r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "server_id"}},
			TargetWhere: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "server_id IS NOT NULL"},
			}},
			DoUpdates: clause.AssignmentColumns([]string{
				"code", "name", "type", "phone", "region", "active", "sync_status", "synced_at",
			}),
		}).Create(&model).Error
	})
	if err != nil {
		return fmt.Errorf("upsert actor: %w", err)
	}
	return nil
}

func (r *ActorCacheRepository) DeleteByServerID(ctx context.Context, serverID string) error {
	err := r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		return tx.Where("server_id = ?", serverID).Delete(&actorModel{}).Error
	})
	if err != nil {
		return fmt.Errorf("delete actor: %w", err)
	}
	return nil
}

func (r *ActorCacheRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.ReadTX(ctx, func(tx *localdb.Tx) error {
		return tx.Model(&actorModel{}).Count(&n).Error
	})
	if err != nil {
		return 0, fmt.Errorf("count actors: %w", err)
	}
	return n, nil
}

func (r *ActorCacheRepository) Clear(ctx context.Context) error {
	err := r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		return tx.Where("1 = 1").Delete(&actorModel{}).Error
	})
	if err != nil {
		return fmt.Errorf("clear actors: %w", err)
	}
	return nil
}

func toActorModel(a domain.Actor) actorModel {
	return actorModel{
		RowID:      a.RowID,
		ServerID:   nullString(a.ServerID),
		LocalID:    nullString(a.LocalID),
		Code:       a.Code,
		Name:       a.Name,
		Type:       string(a.Type),
		Phone:      a.Phone,
		Region:     a.Region,
		Active:     a.Active,
		SyncStatus: string(a.SyncStatus),
		SyncedAt:   nullTime(a.SyncedAt),
	}
}

func toActor(model actorModel) domain.Actor {
	return domain.Actor{
		RowID:      model.RowID,
		ServerID:   model.ServerID.String,
		LocalID:    model.LocalID.String,
		Code:       model.Code,
		Name:       model.Name,
		Type:       domain.ActorType(model.Type),
		Phone:      model.Phone,
		Region:     model.Region,
		Active:     model.Active,
		SyncStatus: domain.SyncStatus(model.SyncStatus),
		SyncedAt:   model.SyncedAt.Time,
	}
}
