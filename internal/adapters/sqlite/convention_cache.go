package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/agritrace/fieldsync/internal/adapters/sqlite/localdb"
	"github.com/agritrace/fieldsync/internal/core/domain"
)

// ConventionCacheRepository is the local projection table for conventions.
type ConventionCacheRepository struct {
	db *localdb.DB
}

func NewConventionCacheRepository(db *localdb.DB) *ConventionCacheRepository {
	return &ConventionCacheRepository{db: db}
}

func (r *ConventionCacheRepository) Insert(ctx context.Context, c domain.Convention) (domain.Convention, error) {
	model, err := toConventionModel(c)
	if err != nil {
		return domain.Convention{}, err
	}
	err = r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		return tx.Create(&model).Error
	})
	if err != nil {
		return domain.Convention{}, fmt.Errorf("insert convention: %w", err)
	}
	c.RowID = model.RowID
	return c, nil
}

func (r *ConventionCacheRepository) GetByLocalID(ctx context.Context, localID string) (domain.Convention, error) {
	var model conventionModel
	err := r.db.ReadTX(ctx, func(tx *localdb.Tx) error {
		return tx.Where("local_id = ?", localID).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Convention{}, domain.ErrNotFound
		}
		return domain.Convention{}, fmt.Errorf("get convention by local id: %w", err)
	}
	return toConvention(model)
}

func (r *ConventionCacheRepository) GetByServerID(ctx context.Context, serverID string) (domain.Convention, error) {
	var model conventionModel
	err := r.db.ReadTX(ctx, func(tx *localdb.Tx) error {
		return tx.Where("server_id = ?", serverID).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Convention{}, domain.ErrNotFound
		}
		return domain.Convention{}, fmt.Errorf("get convention by server id: %w", err)
	}
	return toConvention(model)
}

func (r *ConventionCacheRepository) UpdateByLocalID(ctx context.Context, localID string, c domain.Convention) error {
	products, err := json.Marshal(c.Products)
	if err != nil {
		return fmt.Errorf("encode products: %w", err)
	}
	err = r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		return tx.Model(&conventionModel{}).
			Where("local_id = ?", localID).
			Updates(map[string]any{
				"producer_server_id":       c.ProducerServerID,
				"producer_local_id":        c.ProducerLocalID,
				"buyer_exporter_server_id": c.BuyerExporterServerID,
				"buyer_exporter_local_id":  c.BuyerExporterLocalID,
				"signature_date":           c.SignatureDate,
				"status":                   c.Status,
				"products":                 string(products),
				"sync_status":              string(c.SyncStatus),
			}).Error
	})
	if err != nil {
		return fmt.Errorf("update convention: %w", err)
	}
	return nil
}

// Promote rewrites a locally created convention with its server identity.
// The localId column is retained so references queued before promotion still
// resolve.
func (r *ConventionCacheRepository) Promote(ctx context.Context, localID, serverID, code string, syncedAt time.Time) error {
	err := r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		res := tx.Model(&conventionModel{}).
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
		return fmt.Errorf("promote convention: %w", err)
	}
	return nil
}

// UpsertFromServer inserts an unseen server record or rewrites the existing
// row matched by server id, preserving the internal row id.
func (r *ConventionCacheRepository) UpsertFromServer(ctx context.Context, c domain.Convention) error {
	model, err := toConventionModel(c)
	if err != nil {
		return err
	}
	err = r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "server_id"}},
			// The unique index on server_id is partial, so the conflict
			// target has to repeat its predicate.
			TargetWhere: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "server_id IS NOT NULL"},
			}},
			DoUpdates: clause.AssignmentColumns([]string{
				"code", "producer_server_id", "buyer_exporter_server_id",
				"signature_date", "status", "products", "sync_status", "synced_at",
			}),
		}).Create(&model).Error
	})
	if err != nil {
		return fmt.Errorf("upsert convention: %w", err)
	}
	return nil
}

func (r *ConventionCacheRepository) DeleteByServerID(ctx context.Context, serverID string) error {
	err := r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		return tx.Where("server_id = ?", serverID).Delete(&conventionModel{}).Error
	})
	if err != nil {
		return fmt.Errorf("delete convention: %w", err)
	}
	return nil
}

func (r *ConventionCacheRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.ReadTX(ctx, func(tx *localdb.Tx) error {
		return tx.Model(&conventionModel{}).Count(&n).Error
	})
	if err != nil {
		return 0, fmt.Errorf("count conventions: %w", err)
	}
	return n, nil
}

func (r *ConventionCacheRepository) Clear(ctx context.Context) error {
	err := r.db.WriteTX(ctx, func(tx *localdb.Tx) error {
		return tx.Where("1 = 1").Delete(&conventionModel{}).Error
	})
	if err != nil {
		return fmt.Errorf("clear conventions: %w", err)
	}
	return nil
}

func toConventionModel(c domain.Convention) (conventionModel, error) {
	products, err := json.Marshal(c.Products)
	if err != nil {
		return conventionModel{}, fmt.Errorf("encode products: %w", err)
	}
	return conventionModel{
		RowID:                 c.RowID,
		ServerID:              nullString(c.ServerID),
		LocalID:               nullString(c.LocalID),
		Code:                  c.Code,
		ProducerServerID:      c.ProducerServerID,
		ProducerLocalID:       c.ProducerLocalID,
		BuyerExporterServerID: c.BuyerExporterServerID,
		BuyerExporterLocalID:  c.BuyerExporterLocalID,
		SignatureDate:         c.SignatureDate,
		Status:                c.Status,
		Products:              string(products),
		SyncStatus:            string(c.SyncStatus),
		SyncedAt:              nullTime(c.SyncedAt),
	}, nil
}

func toConvention(model conventionModel) (domain.Convention, error) {
	var products []domain.Product
	if model.Products != "" {
		if err := json.Unmarshal([]byte(model.Products), &products); err != nil {
			return domain.Convention{}, fmt.Errorf("decode products for convention %d: %w", model.RowID, err)
		}
	}
	return domain.Convention{
		RowID:                 model.RowID,
		ServerID:              model.ServerID.String,
		LocalID:               model.LocalID.String,
		Code:                  model.Code,
		ProducerServerID:      model.ProducerServerID,
		ProducerLocalID:       model.ProducerLocalID,
		BuyerExporterServerID: model.BuyerExporterServerID,
		BuyerExporterLocalID:  model.BuyerExporterLocalID,
		SignatureDate:         model.SignatureDate,
		Status:                model.Status,
		Products:              products,
		SyncStatus:            domain.SyncStatus(model.SyncStatus),
		SyncedAt:              model.SyncedAt.Time,
	}, nil
}
