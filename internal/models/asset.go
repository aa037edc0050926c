package models

import (
	"time"
)

// AssetStatus is the current custody state of an asset
type AssetStatus string

const (
	StatusAtBase    AssetStatus = "AT_BASE"
	StatusInTransit AssetStatus = "IN_TRANSIT"
	StatusAtPortal  AssetStatus = "AT_PORTAL"
)

// Valid reports whether s is one of the known statuses
func (s AssetStatus) Valid() bool {
	switch s {
	case StatusAtBase, StatusInTransit, StatusAtPortal:
		return true
	}
	return false
}

// Coordinates is a latitude/longitude pair. A nil *Coordinates means no fix.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// InRange reports whether both values are valid WGS84 degrees
func (c Coordinates) InRange() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// Asset represents a tracked container
type Asset struct {
	ID          int64        `json:"id"`
	Serial      string       `json:"serial"`
	Label       *string      `json:"label"`
	Contents    *string      `json:"contents"`
	Location    string       `json:"location"`
	Status      AssetStatus  `json:"status"`
	Coordinates *Coordinates `json:"coordinates"`
	TagID       *int64       `json:"tag_id"`
	Version     int64        `json:"version"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// AssetDetail is an asset with its bound tag and movement history attached
type AssetDetail struct {
	Asset
	Tag       *Tag            `json:"tag"`
	Movements []MovementEvent `json:"movements"`
}

// CreateAssetRequest represents the request body for creating a new asset
type CreateAssetRequest struct {
	Serial    string   `json:"serial"`
	Label     *string  `json:"label,omitempty"`
	Contents  *string  `json:"contents,omitempty"`
	Location  string   `json:"location,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// AssetPatch carries the fields of a partial update. Fields that were not
// present in the request body stay unset; an explicit null or "" is set.
type AssetPatch struct {
	Serial    Optional[string]  `json:"serial"`
	Label     Optional[string]  `json:"label"`
	Contents  Optional[string]  `json:"contents"`
	Latitude  Optional[float64] `json:"latitude"`
	Longitude Optional[float64] `json:"longitude"`
}

// Empty reports whether the patch would change nothing
func (p AssetPatch) Empty() bool {
	return !p.Serial.Set && !p.Label.Set && !p.Contents.Set && !p.Latitude.Set && !p.Longitude.Set
}

// AssignTagRequest represents the request body for binding a tag to an asset
type AssignTagRequest struct {
	TagUID string `json:"tag_uid"`
}

// ManualActionRequest is the checkout/checkin payload. Field names are part of
// the external contract and stay camelCase.
type ManualActionRequest struct {
	ToLocation *string  `json:"toLocation,omitempty"`
	AtLocation *string  `json:"atLocation,omitempty"`
	Actor      string   `json:"actor,omitempty"`
	Timestamp  *string  `json:"timestamp,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
}
