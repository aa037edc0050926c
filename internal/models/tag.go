package models

import "time"

// Tag represents a radio tag identifier known to the system
type Tag struct {
	ID         int64      `json:"id"`
	UID        string     `json:"uid"`
	Metadata   Metadata   `json:"metadata"`
	LastSeenAt *time.Time `json:"last_seen_at"`
	Active     bool       `json:"active"`
	OwnerRef   *string    `json:"owner_ref"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
