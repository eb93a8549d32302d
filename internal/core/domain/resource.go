package domain

import "time"

// Server-side resource shapes, as returned by the remote API. Conversion to
// the local projections tags records SYNCED and stamps syncedAt.

type ActorResource struct {
	ID     string    `json:"id"`
	Code   string    `json:"code"`
	Name   string    `json:"name"`
	Type   ActorType `json:"type"`
	Phone  string    `json:"phone"`
	Region string    `json:"region"`
	Active bool      `json:"active"`
}

func (r ActorResource) ToActor(syncedAt time.Time) Actor {
	return Actor{
		ServerID:   r.ID,
		Code:       r.Code,
		Name:       r.Name,
		Type:       r.Type,
		Phone:      r.Phone,
		Region:     r.Region,
		Active:     r.Active,
		SyncStatus: SyncStatusSynced,
		SyncedAt:   syncedAt,
	}
}

type ConventionResource struct {
	ID              string    `json:"id"`
	Code            string    `json:"code"`
	ProducerID      string    `json:"producersId"`
	BuyerExporterID string    `json:"buyerExporterId"`
	SignatureDate   string    `json:"signatureDate"`
	Status          string    `json:"status"`
	Products        []Product `json:"products"`
	Active          bool      `json:"active"`
}

func (r ConventionResource) ToConvention(syncedAt time.Time) Convention {
	return Convention{
		ServerID:              r.ID,
		Code:                  r.Code,
		ProducerServerID:      r.ProducerID,
		BuyerExporterServerID: r.BuyerExporterID,
		SignatureDate:         r.SignatureDate,
		Status:                r.Status,
		Products:              r.Products,
		SyncStatus:            SyncStatusSynced,
		SyncedAt:              syncedAt,
	}
}

type StoreResource struct {
	ID           string  `json:"id"`
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	Region       string  `json:"region"`
	CapacityTons float64 `json:"capacityTons"`
	Active       bool    `json:"active"`
}

func (r StoreResource) ToStore(syncedAt time.Time) Store {
	return Store{
		ServerID:     r.ID,
		Code:         r.Code,
		Name:         r.Name,
		Region:       r.Region,
		CapacityTons: r.CapacityTons,
		Active:       r.Active,
		SyncStatus:   SyncStatusSynced,
		SyncedAt:     syncedAt,
	}
}
