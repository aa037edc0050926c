package models

import "time"

// ReadEvent is the audit record of one raw tag sighting
type ReadEvent struct {
	ID         int64     `json:"id"`
	UID        string    `json:"uid"`
	TagID      int64     `json:"tag_id"`
	PortalID   int64     `json:"portal_id"`
	ObservedAt time.Time `json:"observed_at"`
	RSSI       *float64  `json:"rssi"`
	Antenna    *int      `json:"antenna"`
	Metadata   Metadata  `json:"metadata"`
	CreatedAt  time.Time `json:"created_at"`
}

// ReadEventDetail is a read event with its portal and tag attached
type ReadEventDetail struct {
	ReadEvent
	Portal *Portal `json:"portal"`
	Tag    *Tag    `json:"tag"`
}
