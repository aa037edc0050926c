package models

import "time"

// Portal is a fixed reader that reports tag sightings in batches
type Portal struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Location   string     `json:"location"`
	KeyHash    string     `json:"-"`
	LastSeenAt *time.Time `json:"last_seen_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

// SightingLocation is the location recorded for assets seen by this portal
func (p Portal) SightingLocation() string {
	if p.Location != "" {
		return p.Location
	}
	return p.Name
}

// CreatePortalRequest represents the request body for registering a portal
type CreatePortalRequest struct {
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

// PortalRegistration is returned once on registration; the API key is not
// retrievable afterwards.
type PortalRegistration struct {
	Portal Portal `json:"portal"`
	APIKey string `json:"api_key"`
}
