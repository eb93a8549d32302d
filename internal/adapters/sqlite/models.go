package sqlite

import (
	"database/sql"
	"time"
)

type pendingOperationModel struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement"`
	EntityID      string    `gorm:"column:entity_id;not null"`
	EntityKind    string    `gorm:"column:entity_kind;not null"`
	Operation     string    `gorm:"column:operation;not null"`
	Payload       string    `gorm:"column:payload;not null"`
	Timestamp     time.Time `gorm:"column:timestamp;not null"`
	Retries       int       `gorm:"column:retries;not null"`
	UserID        string    `gorm:"column:user_id;not null"`
	Status        string    `gorm:"column:status;not null"`
	LastError     string    `gorm:"column:last_error;not null"`
	NextAttemptAt time.Time `gorm:"column:next_attempt_at;not null"`
}

func (pendingOperationModel) TableName() string {
	return "pending_operations"
}

type actorModel struct {
	RowID      int64          `gorm:"column:row_id;primaryKey;autoIncrement"`
	ServerID   sql.NullString `gorm:"column:server_id"`
	LocalID    sql.NullString `gorm:"column:local_id"`
	Code       string         `gorm:"column:code;not null"`
	Name       string         `gorm:"column:name;not null"`
	Type       string         `gorm:"column:type;not null"`
	Phone      string         `gorm:"column:phone;not null"`
	Region     string         `gorm:"column:region;not null"`
	Active     bool           `gorm:"column:active;not null"`
	SyncStatus string         `gorm:"column:sync_status;not null"`
	SyncedAt   sql.NullTime   `gorm:"column:synced_at"`
}

func (actorModel) TableName() string {
	return "actors"
}

type conventionModel struct {
	RowID                 int64          `gorm:"column:row_id;primaryKey;autoIncrement"`
	ServerID              sql.NullString `gorm:"column:server_id"`
	LocalID               sql.NullString `gorm:"column:local_id"`
	Code                  string         `gorm:"column:code;not null"`
	ProducerServerID      string         `gorm:"column:producer_server_id;not null"`
	ProducerLocalID       string         `gorm:"column:producer_local_id;not null"`
	BuyerExporterServerID string         `gorm:"column:buyer_exporter_server_id;not null"`
	BuyerExporterLocalID  string         `gorm:"column:buyer_exporter_local_id;not null"`
	SignatureDate         string         `gorm:"column:signature_date;not null"`
	Status                string         `gorm:"column:status;not null"`
	Products              string         `gorm:"column:products;not null"`
	SyncStatus            string         `gorm:"column:sync_status;not null"`
	SyncedAt              sql.NullTime   `gorm:"column:synced_at"`
}

func (conventionModel) TableName() string {
	return "conventions"
}

type storeModel struct {
	RowID        int64          `gorm:"column:row_id;primaryKey;autoIncrement"`
	ServerID     sql.NullString `gorm:"column:server_id"`
	LocalID      sql.NullString `gorm:"column:local_id"`
	Code         string         `gorm:"column:code;not null"`
	Name         string         `gorm:"column:name;not null"`
	Region       string         `gorm:"column:region;not null"`
	CapacityTons float64        `gorm:"column:capacity_tons;not null"`
	Active       bool           `gorm:"column:active;not null"`
	SyncStatus   string         `gorm:"column:sync_status;not null"`
	SyncedAt     sql.NullTime   `gorm:"column:synced_at"`
}

func (storeModel) TableName() string {
	return "stores"
}

type auditEntryModel struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID     string    `gorm:"column:user_id;not null"`
	EntityKind string    `gorm:"column:entity_kind;not null"`
	EntityID   string    `gorm:"column:entity_id;not null"`
	Operation  string    `gorm:"column:operation;not null"`
	Outcome    string    `gorm:"column:outcome;not null"`
	Detail     string    `gorm:"column:detail;not null"`
	OccurredAt time.Time `gorm:"column:occurred_at;not null"`
}

func (auditEntryModel) TableName() string {
	return "audit_log"
}

type settingModel struct {
	Key       string    `gorm:"column:key;primaryKey"`
	Value     string    `gorm:"column:value;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (settingModel) TableName() string {
	return "settings"
}

type watermarkModel struct {
	EntityKind string    `gorm:"column:entity_kind;primaryKey"`
	LastSyncAt time.Time `gorm:"column:last_sync_at;not null"`
}

func (watermarkModel) TableName() string {
	return "sync_watermarks"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
