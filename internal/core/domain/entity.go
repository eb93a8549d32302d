package domain

import (
	"strings"
	"time"
)

// EntityKind identifies which service owns a cached record or a queued
// operation. The set is closed; the dispatcher resolves handlers through a
// registry keyed by kind.
type EntityKind string

const (
	KindActor      EntityKind = "actor"
	KindConvention EntityKind = "convention"
	KindStore      EntityKind = "store"
	KindDocument   EntityKind = "document"
	KindAuditLog   EntityKind = "audit_log"
)

func (k EntityKind) Valid() bool {
	switch k {
	case KindActor, KindConvention, KindStore, KindDocument, KindAuditLog:
		return true
	}
	return false
}

// SyncStatus tags every cached record with where it stands relative to the
// server. Optimistic local writes carry a pending status until their queued
// operation is applied and the record is promoted.
type SyncStatus string

const (
	SyncStatusSynced          SyncStatus = "SYNCED"
	SyncStatusPendingCreation SyncStatus = "PENDING_CREATION"
	SyncStatusPendingUpdate   SyncStatus = "PENDING_UPDATE"
)

// LocalIDPrefix marks client-generated identifiers. Anything without the
// prefix is treated as a server identifier.
const LocalIDPrefix = "local-"

func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// Role gates which authenticated users sync a given entity kind on login.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleFieldAgent  Role = "field_agent"
	RoleCoopManager Role = "coop_manager"
	RoleBuyer       Role = "buyer"
)

// ActorType distinguishes the supply-chain actors the application manages.
type ActorType string

const (
	ActorProducer    ActorType = "producer"
	ActorCooperative ActorType = "cooperative"
	ActorBuyer       ActorType = "buyer"
	ActorExporter    ActorType = "exporter"
	ActorTransformer ActorType = "transformer"
)

// Actor is the local projection of a supply-chain actor.
type Actor struct {
	RowID      int64
	ServerID   string
	LocalID    string
	Code       string
	Name       string
	Type       ActorType
	Phone      string
	Region     string
	Active     bool
	SyncStatus SyncStatus
	SyncedAt   time.Time
}

// Product is one line of a convention's committed produce.
type Product struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
}

// Convention is the local projection of a contract between a producer (or
// cooperative) and a buyer/exporter. Foreign references keep both identifier
// forms until the referenced actor has itself been synced.
type Convention struct {
	RowID                 int64
	ServerID              string
	LocalID               string
	Code                  string
	ProducerServerID      string
	ProducerLocalID       string
	BuyerExporterServerID string
	BuyerExporterLocalID  string
	SignatureDate         string
	Status                string
	Products              []Product
	SyncStatus            SyncStatus
	SyncedAt              time.Time
}

// Store is the local projection of a storage facility.
type Store struct {
	RowID        int64
	ServerID     string
	LocalID      string
	Code         string
	Name         string
	Region       string
	CapacityTons float64
	Active       bool
	SyncStatus   SyncStatus
	SyncedAt     time.Time
}

// Document is an attachment bound to another entity. Content travels inside
// the owning entity's queued payload until upload.
type Document struct {
	RowID       int64
	ServerID    string
	LocalID     string
	Name        string
	MimeType    string
	OwnerKind   EntityKind
	OwnerID     string
	Content     []byte
	SyncStatus  SyncStatus
	SyncedAt    time.Time
}
