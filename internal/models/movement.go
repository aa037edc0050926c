package models

import "time"

// MovementKind identifies the transition recorded by a movement event
type MovementKind string

const (
	MovementCheckout   MovementKind = "CHECKOUT"
	MovementCheckin    MovementKind = "CHECKIN"
	MovementPortalRead MovementKind = "PORTAL_READ"
)

// Valid reports whether k is one of the known kinds
func (k MovementKind) Valid() bool {
	switch k {
	case MovementCheckout, MovementCheckin, MovementPortalRead:
		return true
	}
	return false
}

// MovementEvent is an immutable ledger entry. Entries are ordered by
// OccurredAt, ties broken by ID.
type MovementEvent struct {
	ID         int64        `json:"id"`
	AssetID    int64        `json:"asset_id"`
	Kind       MovementKind `json:"kind"`
	Actor      string       `json:"actor"`
	Location   string       `json:"location"`
	OccurredAt time.Time    `json:"occurred_at"`
	Metadata   Metadata     `json:"metadata"`
	CreatedAt  time.Time    `json:"created_at"`
}
