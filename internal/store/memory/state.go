package memory

import (
	"time"

	"asset-tracker-api/internal/models"
)

type state struct {
	seq map[string]int64

	tags     map[int64]models.Tag
	tagByUID map[string]int64

	assets     map[int64]models.Asset
	bySerial   map[string]int64
	assetByTag map[int64]int64

	movements []models.MovementEvent
	reads     []models.ReadEvent

	portals      map[int64]models.Portal
	portalByHash map[string]int64
}

func newState() *state {
	return &state{
		seq:          map[string]int64{},
		tags:         map[int64]models.Tag{},
		tagByUID:     map[string]int64{},
		assets:       map[int64]models.Asset{},
		bySerial:     map[string]int64{},
		assetByTag:   map[int64]int64{},
		portals:      map[int64]models.Portal{},
		portalByHash: map[string]int64{},
	}
}

// next hands out ids like a database sequence: never reused, even after rollback
func (st *state) next(table string) int64 {
	st.seq[table]++
	return st.seq[table]
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt64(n *int64) *int64 {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}

func cloneMetadata(md models.Metadata) models.Metadata {
	if len(md) == 0 {
		return nil
	}
	out := make(models.Metadata, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

func cloneTag(t models.Tag) models.Tag {
	t.Metadata = cloneMetadata(t.Metadata)
	t.LastSeenAt = cloneTime(t.LastSeenAt)
	t.OwnerRef = cloneString(t.OwnerRef)
	return t
}

func cloneAsset(a models.Asset) models.Asset {
	a.Label = cloneString(a.Label)
	a.Contents = cloneString(a.Contents)
	a.TagID = cloneInt64(a.TagID)
	if a.Coordinates != nil {
		c := *a.Coordinates
		a.Coordinates = &c
	}
	return a
}

func cloneMovement(m models.MovementEvent) models.MovementEvent {
	m.Metadata = cloneMetadata(m.Metadata)
	return m
}

func cloneRead(r models.ReadEvent) models.ReadEvent {
	r.Metadata = cloneMetadata(r.Metadata)
	if r.RSSI != nil {
		v := *r.RSSI
		r.RSSI = &v
	}
	if r.Antenna != nil {
		v := *r.Antenna
		r.Antenna = &v
	}
	return r
}

func clonePortal(p models.Portal) models.Portal {
	p.LastSeenAt = cloneTime(p.LastSeenAt)
	return p
}
